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

// Flights answers flight status by designator and airport delay queries.
type Flights struct {
	up upstream
}

func NewFlights(ep config.Endpoint, budget *resilience.Budget) *Flights {
	return &Flights{up: newUpstream("flights", types.CategoryFlights, ep, budget)}
}

func (h *Flights) Name() string { return "flights" }

type flightReply struct {
	Flight    string `json:"flight"`
	Status    string `json:"status"` // "on_time", "delayed", "cancelled", "landed"
	Departure string `json:"departure_airport"`
	Arrival   string `json:"arrival_airport"`
	Scheduled string `json:"scheduled"`
	Estimated string `json:"estimated"`
	Gate      string `json:"gate"`
}

type delaysReply struct {
	Airport      string `json:"airport"`
	DelayMinutes int    `json:"delay_minutes"`
	Reason       string `json:"reason"`
}

func (h *Flights) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: flights not configured: %w", types.ErrNotApplicable)
	}

	if in.Intent.Kind == "flights.delays" {
		return h.delays(ctx, in)
	}

	number := in.Intent.Entities["flight"]
	if number == "" {
		return Result{}, fmt.Errorf("handler: no flight entity: %w", types.ErrNotApplicable)
	}

	var reply flightReply
	if err := h.up.getJSON(ctx, "/v1/flights/"+url.PathEscape(number), nil, &reply); err != nil {
		return Result{}, err
	}

	var answer string
	switch reply.Status {
	case "delayed":
		answer = fmt.Sprintf("Flight %s is delayed; it's now expected at %s.",
			strings.ToUpper(reply.Flight), reply.Estimated)
	case "cancelled":
		answer = fmt.Sprintf("Flight %s has been cancelled.", strings.ToUpper(reply.Flight))
	case "landed":
		answer = fmt.Sprintf("Flight %s has landed at %s.", strings.ToUpper(reply.Flight), reply.Arrival)
	default:
		answer = fmt.Sprintf("Flight %s is on time, scheduled for %s", strings.ToUpper(reply.Flight), reply.Scheduled)
		if reply.Gate != "" {
			answer += fmt.Sprintf(" from gate %s", reply.Gate)
		}
		answer += "."
	}
	return Result{Answer: answer, Source: "flights"}, nil
}

func (h *Flights) delays(ctx context.Context, in Input) (Result, error) {
	airport := in.Intent.Entities["airport"]
	if airport == "" {
		airport = in.Intent.Entities["location"]
	}
	if airport == "" {
		return Result{}, fmt.Errorf("handler: no airport entity: %w", types.ErrNotApplicable)
	}

	var reply delaysReply
	if err := h.up.getJSON(ctx, "/v1/airports/"+url.PathEscape(airport)+"/delays", nil, &reply); err != nil {
		return Result{}, err
	}

	if reply.DelayMinutes == 0 {
		return Result{Answer: fmt.Sprintf("No significant delays at %s right now.", reply.Airport), Source: "flights"}, nil
	}
	answer := fmt.Sprintf("%s is reporting delays of about %d minutes", reply.Airport, reply.DelayMinutes)
	if reply.Reason != "" {
		answer += " due to " + reply.Reason
	}
	return Result{Answer: answer + ".", Source: "flights"}, nil
}
