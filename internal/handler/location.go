package handler

import (
	"context"
	"fmt"
	"net/url"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// Location answers distance and nearby-venue queries against the places
// source.
type Location struct {
	up upstream
}

func NewLocation(ep config.Endpoint, budget *resilience.Budget) *Location {
	return &Location{up: newUpstream("location", types.CategoryLocation, ep, budget)}
}

func (h *Location) Name() string { return "location" }

type placeReply struct {
	Name          string  `json:"name"`
	DistanceMiles float64 `json:"distance_miles"`
	TravelMinutes int     `json:"travel_minutes"`
	Address       string  `json:"address"`
}

func (h *Location) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: location not configured: %w", types.ErrNotApplicable)
	}
	place := in.Intent.Entities["location"]
	if place == "" {
		return Result{}, fmt.Errorf("handler: no location entity: %w", types.ErrNotApplicable)
	}

	q := url.Values{"query": {place}}
	if in.Zone != "" {
		q.Set("near", in.Zone)
	}

	var reply placeReply
	if err := h.up.getJSON(ctx, "/v1/places", q, &reply); err != nil {
		return Result{}, err
	}

	switch in.Intent.Kind {
	case "location.distance":
		return Result{
			Answer: fmt.Sprintf("%s is %.1f miles away, about %d minutes by car.",
				reply.Name, reply.DistanceMiles, reply.TravelMinutes),
			Source: "location",
		}, nil
	case "location.nearby":
		return Result{
			Answer: fmt.Sprintf("The closest one is %s, %.1f miles away at %s.",
				reply.Name, reply.DistanceMiles, reply.Address),
			Source: "location",
		}, nil
	default:
		return Result{
			Answer: fmt.Sprintf("%s is at %s.", reply.Name, reply.Address),
			Source: "location",
		}, nil
	}
}
