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

// News reads back the top headlines, optionally filtered by topic.
type News struct {
	up upstream
}

func NewNews(ep config.Endpoint, budget *resilience.Budget) *News {
	return &News{up: newUpstream("news", types.CategoryNews, ep, budget)}
}

func (h *News) Name() string { return "news" }

type newsReply struct {
	Headlines []struct {
		Title  string `json:"title"`
		Source string `json:"source"`
	} `json:"headlines"`
}

func (h *News) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: news not configured: %w", types.ErrNotApplicable)
	}

	q := url.Values{}
	if topic := in.Intent.Entities["topic"]; topic != "" {
		q.Set("topic", topic)
	}

	var reply newsReply
	if err := h.up.getJSON(ctx, "/v1/headlines", q, &reply); err != nil {
		return Result{}, err
	}
	if len(reply.Headlines) == 0 {
		return Result{Answer: "I didn't find any headlines right now.", Source: "news"}, nil
	}

	var b strings.Builder
	b.WriteString("Here are the top headlines. ")
	for i, hl := range reply.Headlines {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "%s. ", hl.Title)
	}
	return Result{Answer: strings.TrimSpace(b.String()), Source: "news"}, nil
}
