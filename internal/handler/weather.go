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

// Weather answers current-conditions and forecast queries.
type Weather struct {
	up upstream
}

func NewWeather(ep config.Endpoint, budget *resilience.Budget) *Weather {
	return &Weather{up: newUpstream("weather", types.CategoryWeather, ep, budget)}
}

func (h *Weather) Name() string { return "weather" }

// weatherReply is the source's response shape. The daily slice covers
// forecast queries; current is always present.
type weatherReply struct {
	Location string `json:"location"`
	Current  struct {
		Condition    string  `json:"condition"`
		TemperatureF float64 `json:"temperature_f"`
	} `json:"current"`
	Daily []struct {
		Day           string  `json:"day"`
		Condition     string  `json:"condition"`
		HighF         float64 `json:"high_f"`
		LowF          float64 `json:"low_f"`
		Precipitation int     `json:"precipitation_chance"`
	} `json:"daily"`
}

func (h *Weather) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: weather not configured: %w", types.ErrNotApplicable)
	}

	q := url.Values{}
	location := in.Intent.Entities["location"]
	if location == "" {
		location = in.Zone
	}
	if location != "" {
		q.Set("location", location)
	}
	if day := in.Intent.Entities["day"]; day != "" {
		q.Set("day", day)
	}

	var reply weatherReply
	if err := h.up.getJSON(ctx, "/v1/weather", q, &reply); err != nil {
		return Result{}, err
	}
	return Result{Answer: h.format(in.Intent.Kind, reply), Source: "weather"}, nil
}

func (h *Weather) format(kind string, r weatherReply) string {
	switch kind {
	case "weather.tomorrow", "weather.tonight":
		if len(r.Daily) > 0 {
			d := r.Daily[0]
			when := "Tomorrow"
			if kind == "weather.tonight" {
				when = "Tonight"
			}
			s := fmt.Sprintf("%s it will be %s with a high of %.0f and a low of %.0f.",
				when, d.Condition, d.HighF, d.LowF)
			if d.Precipitation >= 30 {
				s += fmt.Sprintf(" There's a %d percent chance of precipitation.", d.Precipitation)
			}
			return s
		}
	case "weather.weekend", "weather.week":
		if len(r.Daily) > 0 {
			var b strings.Builder
			b.WriteString("Here's the forecast. ")
			for _, d := range r.Daily {
				fmt.Fprintf(&b, "%s: %s, high %.0f, low %.0f. ", d.Day, d.Condition, d.HighF, d.LowF)
			}
			return strings.TrimSpace(b.String())
		}
	}
	return fmt.Sprintf("It's currently %s and %.0f degrees%s.",
		strings.ToLower(r.Current.Condition), r.Current.TemperatureF, inLocation(r.Location))
}

func inLocation(loc string) string {
	if loc == "" {
		return ""
	}
	return " in " + loc
}
