package handler

import (
	"context"
	"fmt"
	"net/url"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// WebSearch is the generic instant-answer fallback used when no
// category-specific handler applies.
type WebSearch struct {
	up upstream
}

func NewWebSearch(ep config.Endpoint, budget *resilience.Budget) *WebSearch {
	return &WebSearch{up: newUpstream("web_search", types.CategoryWebSearch, ep, budget)}
}

func (h *WebSearch) Name() string { return "web_search" }

type answerReply struct {
	Answer string `json:"answer"`
	Source string `json:"source"`
}

func (h *WebSearch) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: web search not configured: %w", types.ErrNotApplicable)
	}

	var reply answerReply
	if err := h.up.getJSON(ctx, "/v1/answer", url.Values{"q": {in.Intent.Query}}, &reply); err != nil {
		return Result{}, err
	}
	if reply.Answer == "" {
		// No instant answer; the LLM path gets its turn.
		return Result{}, fmt.Errorf("handler: no instant answer: %w", types.ErrNotApplicable)
	}
	return Result{Answer: reply.Answer, Source: "web_search"}, nil
}
