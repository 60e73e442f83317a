package handler

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// Events answers local-happenings queries for a day window.
type Events struct {
	up upstream
}

func NewEvents(ep config.Endpoint, budget *resilience.Budget) *Events {
	return &Events{up: newUpstream("events", types.CategoryEvents, ep, budget)}
}

func (h *Events) Name() string { return "events" }

type eventsReply struct {
	Events []struct {
		Name  string `json:"name"`
		Venue string `json:"venue"`
		Date  string `json:"date"`
	} `json:"events"`
}

func (h *Events) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: events not configured: %w", types.ErrNotApplicable)
	}

	q := url.Values{}
	day := in.Intent.Entities["day"]
	if day == "" {
		day = "today"
	}
	q.Set("day", day)
	if loc := in.Intent.Entities["location"]; loc != "" {
		q.Set("location", loc)
	}

	var reply eventsReply
	if err := h.up.getJSON(ctx, "/v1/events", q, &reply); err != nil {
		return Result{}, err
	}

	if len(reply.Events) == 0 {
		return Result{Answer: fmt.Sprintf("I didn't find any events %s.", spokenDay(day)), Source: "events"}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "There are %d events %s. ", len(reply.Events), spokenDay(day))
	for i, e := range reply.Events {
		if i >= 3 {
			b.WriteString("And more.")
			break
		}
		fmt.Fprintf(&b, "%s at %s. ", e.Name, e.Venue)
	}
	return Result{Answer: strings.TrimSpace(b.String()), Source: "events"}, nil
}

func spokenDay(day string) string {
	switch day {
	case "weekend":
		return "this weekend"
	case "week":
		return "this week"
	default:
		return day
	}
}
