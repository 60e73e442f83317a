package handler

import (
	"context"
	"fmt"
	"net/url"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// Stocks answers quote queries for a company or ticker symbol.
type Stocks struct {
	up upstream
}

func NewStocks(ep config.Endpoint, budget *resilience.Budget) *Stocks {
	return &Stocks{up: newUpstream("stocks", types.CategoryStocks, ep, budget)}
}

func (h *Stocks) Name() string { return "stocks" }

type quoteReply struct {
	Symbol        string  `json:"symbol"`
	Company       string  `json:"company"`
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
}

func (h *Stocks) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: stocks not configured: %w", types.ErrNotApplicable)
	}
	company := in.Intent.Entities["company"]
	if company == "" {
		return Result{}, fmt.Errorf("handler: no company entity: %w", types.ErrNotApplicable)
	}

	var reply quoteReply
	if err := h.up.getJSON(ctx, "/v1/quote", url.Values{"q": {company}}, &reply); err != nil {
		return Result{}, err
	}

	direction := "up"
	change := reply.ChangePercent
	if change < 0 {
		direction = "down"
		change = -change
	}
	name := reply.Company
	if name == "" {
		name = reply.Symbol
	}
	return Result{
		Answer: fmt.Sprintf("%s is trading at %.2f dollars, %s %.1f percent today.",
			name, reply.Price, direction, change),
		Source: "stocks",
	}, nil
}
