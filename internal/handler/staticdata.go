package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/openhearth/hearth/internal/types"
)

// Static answers address, parking, neighborhood, and similar fixed-fact
// queries from a curated answer table. Entirely deterministic; no upstream.
type Static struct {
	entries map[string]string // lowercase keyword -> answer
}

// NewStatic creates a Static handler over the given keyword table. A nil
// table yields a handler that declines everything.
func NewStatic(entries map[string]string) *Static {
	normalized := make(map[string]string, len(entries))
	for k, v := range entries {
		normalized[strings.ToLower(k)] = v
	}
	return &Static{entries: normalized}
}

func (h *Static) Name() string { return "static" }

func (h *Static) Handle(_ context.Context, in Input) (Result, error) {
	lower := strings.ToLower(in.Intent.Query)
	for keyword, answer := range h.entries {
		if strings.Contains(lower, keyword) {
			return Result{Answer: answer, Source: "static"}, nil
		}
	}
	return Result{}, fmt.Errorf("handler: no static entry matches: %w", types.ErrNotApplicable)
}
