package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

func endpoint(baseURL string) config.Endpoint {
	return config.Endpoint{BaseURL: baseURL, Timeout: 2 * time.Second}
}

func TestWeatherCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/weather" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("location"); got != "office" {
			t.Errorf("location = %q, want office", got)
		}
		w.Write([]byte(`{"location":"office","current":{"condition":"Cloudy","temperature_f":58}}`))
	}))
	defer srv.Close()

	h := NewWeather(endpoint(srv.URL), nil)
	res, err := h.Handle(context.Background(), Input{
		Intent: types.Intent{Category: types.CategoryWeather, Kind: "weather.current", Entities: map[string]string{}},
		Zone:   "office",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Answer, "cloudy") || !strings.Contains(res.Answer, "58") {
		t.Errorf("answer = %q", res.Answer)
	}
	if res.Source != "weather" {
		t.Errorf("source = %q", res.Source)
	}
}

func TestWeatherTomorrow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"location":"home","current":{"condition":"Clear","temperature_f":60},
			"daily":[{"day":"tomorrow","condition":"rainy","high_f":55,"low_f":41,"precipitation_chance":80}]}`))
	}))
	defer srv.Close()

	h := NewWeather(endpoint(srv.URL), nil)
	res, err := h.Handle(context.Background(), Input{
		Intent: types.Intent{Kind: "weather.tomorrow", Entities: map[string]string{"day": "tomorrow"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Answer, "Tomorrow") || !strings.Contains(res.Answer, "80 percent") {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestSportsScoreFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/score" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"team":"Lakers","opponent":"Celtics","team_score":102,"opponent_score":99,"status":"final"}`))
	}))
	defer srv.Close()

	h := NewSports(endpoint(srv.URL), nil)
	res, err := h.Handle(context.Background(), Input{
		Intent: types.Intent{Kind: "sports.score", Entities: map[string]string{"team": "lakers"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Answer, "beat") || !strings.Contains(res.Answer, "102") {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestSportsNoTeamDeclines(t *testing.T) {
	h := NewSports(endpoint("http://unused"), nil)
	_, err := h.Handle(context.Background(), Input{
		Intent: types.Intent{Kind: "sports.score", Entities: map[string]string{}},
	})
	if !errors.Is(err, types.ErrNotApplicable) {
		t.Fatalf("err = %v, want ErrNotApplicable", err)
	}
}

func TestUnconfiguredDeclines(t *testing.T) {
	h := NewWeather(config.Endpoint{}, nil)
	_, err := h.Handle(context.Background(), Input{Intent: types.Intent{Entities: map[string]string{}}})
	if !errors.Is(err, types.ErrNotApplicable) {
		t.Fatalf("err = %v, want ErrNotApplicable", err)
	}
}

func TestUpstreamErrorRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewNews(endpoint(srv.URL), nil)
	h.up.retry = resilience.RetryConfig{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

	_, err := h.Handle(context.Background(), Input{Intent: types.Intent{Entities: map[string]string{}}})
	if _, ok := types.IsUpstream(err); !ok {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestRateLimitStatusIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	h := NewNews(endpoint(srv.URL), nil)
	_, err := h.Handle(context.Background(), Input{Intent: types.Intent{Entities: map[string]string{}}})
	if !types.IsRateLimited(err) {
		t.Fatalf("err = %v, want RateLimitedError", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (429 must not retry)", got)
	}
}

func TestBudgetShortCircuits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"headlines":[{"title":"one"}]}`))
	}))
	defer srv.Close()

	budget := resilience.NewBudget(map[string]int{string(types.CategoryNews): 1})
	h := NewNews(endpoint(srv.URL), budget)
	in := Input{Intent: types.Intent{Entities: map[string]string{}}}

	if _, err := h.Handle(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	_, err := h.Handle(context.Background(), in)
	if !types.IsRateLimited(err) {
		t.Fatalf("err = %v, want RateLimitedError after budget exhausted", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestStreamingSpokenList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"title":"Dune","services":["Max","Netflix","Hulu"]}`))
	}))
	defer srv.Close()

	h := NewStreaming(endpoint(srv.URL), nil)
	res, err := h.Handle(context.Background(), Input{
		Intent: types.Intent{Entities: map[string]string{"title": "dune"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "You can watch Dune on Max, Netflix, or Hulu." {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestFlightsDelayed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/flights/ua1234" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"flight":"ua1234","status":"delayed","estimated":"6:45 PM"}`))
	}))
	defer srv.Close()

	h := NewFlights(endpoint(srv.URL), nil)
	res, err := h.Handle(context.Background(), Input{
		Intent: types.Intent{Kind: "flights.status", Entities: map[string]string{"flight": "ua1234"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Answer, "delayed") || !strings.Contains(res.Answer, "6:45 PM") {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestStaticHandler(t *testing.T) {
	h := NewStatic(map[string]string{
		"parking": "There's a garage on Oak Street, first hour free.",
	})

	res, err := h.Handle(context.Background(), Input{
		Intent: types.Intent{Query: "where can I find parking downtown"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Answer, "Oak Street") {
		t.Errorf("answer = %q", res.Answer)
	}

	_, err = h.Handle(context.Background(), Input{Intent: types.Intent{Query: "unrelated"}})
	if !errors.Is(err, types.ErrNotApplicable) {
		t.Fatalf("err = %v, want ErrNotApplicable", err)
	}
}

func TestTimeInfo(t *testing.T) {
	h := NewTimeInfo(time.UTC)
	h.now = func() time.Time { return time.Date(2025, time.March, 7, 15, 4, 0, 0, time.UTC) }

	res, err := h.Handle(context.Background(), Input{Intent: types.Intent{Kind: "time.current"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "It's 3:04 PM." {
		t.Errorf("answer = %q", res.Answer)
	}

	res, err = h.Handle(context.Background(), Input{Intent: types.Intent{Kind: "time.date"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "Today is Friday, March 7." {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestFallbackMessages(t *testing.T) {
	if got := Fallback(types.CategoryWeather); !strings.Contains(got, "weather") {
		t.Errorf("weather fallback = %q", got)
	}
	if got := Fallback(types.CategoryUnknown); got == "" {
		t.Error("unknown category must still have a fallback")
	}
}
