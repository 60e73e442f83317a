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

// Streaming answers "where can I watch X" by looking the title up against
// the availability source.
type Streaming struct {
	up upstream
}

func NewStreaming(ep config.Endpoint, budget *resilience.Budget) *Streaming {
	return &Streaming{up: newUpstream("streaming", types.CategoryStreaming, ep, budget)}
}

func (h *Streaming) Name() string { return "streaming" }

type streamingReply struct {
	Title    string   `json:"title"`
	Services []string `json:"services"`
}

func (h *Streaming) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: streaming not configured: %w", types.ErrNotApplicable)
	}
	title := in.Intent.Entities["title"]
	if title == "" {
		return Result{}, fmt.Errorf("handler: no title entity: %w", types.ErrNotApplicable)
	}

	var reply streamingReply
	if err := h.up.getJSON(ctx, "/v1/availability", url.Values{"title": {title}}, &reply); err != nil {
		return Result{}, err
	}

	if len(reply.Services) == 0 {
		return Result{
			Answer: fmt.Sprintf("%s doesn't seem to be streaming anywhere right now.", reply.Title),
			Source: "streaming",
		}, nil
	}
	return Result{
		Answer: fmt.Sprintf("You can watch %s on %s.", reply.Title, spokenList(reply.Services)),
		Source: "streaming",
	}, nil
}

// spokenList joins items with commas and a final "or".
func spokenList(items []string) string {
	switch len(items) {
	case 1:
		return items[0]
	case 2:
		return items[0] + " or " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
	}
}
