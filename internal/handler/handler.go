// Package handler implements the facade handlers: category-specific clients
// that answer a classified intent from an external data source and format
// the result as a speakable string.
//
// All handlers share one contract. A handler either answers, declines with
// [types.ErrNotApplicable] (not a fault; the caller tries the next path), or
// fails with a typed upstream, parse, or rate-limit error. Handlers never
// mutate session state; caching is the orchestrator's concern.
//
// Upstream calls are bounded: per-request timeout, bounded retries with
// exponential backoff, a circuit breaker per service, and a per-category
// daily budget that short-circuits to a fallback before the call is made.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// Input is what every handler receives: the intent to serve, the zone the
// request originated from, and a snapshot of session context. Handlers must
// not retain or mutate the snapshot.
type Input struct {
	Intent  types.Intent
	Zone    string
	Session types.SessionContext
}

// Result is a successful handler answer.
type Result struct {
	// Answer is the speakable response string.
	Answer string

	// Source names the data source for response metadata ("weather",
	// "sports", ...).
	Source string
}

// Handler serves one category of intents.
type Handler interface {
	Name() string
	Handle(ctx context.Context, in Input) (Result, error)
}

// Registry maps categories to their facade handlers.
type Registry struct {
	byCategory map[types.Category]Handler
}

// NewRegistry builds the full handler set from upstream configuration. The
// budget is shared across handlers; categories without a configured limit
// are unlimited.
func NewRegistry(ups config.UpstreamsConfig, budget *resilience.Budget) *Registry {
	r := &Registry{byCategory: make(map[types.Category]Handler)}

	r.Register(types.CategoryTime, NewTimeInfo(nil))
	r.Register(types.CategoryWeather, NewWeather(ups.Weather, budget))
	r.Register(types.CategorySports, NewSports(ups.Sports, budget))
	r.Register(types.CategoryEvents, NewEvents(ups.Events, budget))
	r.Register(types.CategoryStreaming, NewStreaming(ups.Streaming, budget))
	r.Register(types.CategoryNews, NewNews(ups.News, budget))
	r.Register(types.CategoryStocks, NewStocks(ups.Stocks, budget))
	r.Register(types.CategoryFlights, NewFlights(ups.Flights, budget))
	r.Register(types.CategoryLocation, NewLocation(ups.WebSearch, budget))
	r.Register(types.CategoryWebSearch, NewWebSearch(ups.WebSearch, budget))
	r.Register(types.CategoryStatic, NewStatic(nil))
	return r
}

// Register binds category to h, replacing any previous binding.
func (r *Registry) Register(category types.Category, h Handler) {
	r.byCategory[category] = h
}

// For returns the handler for category.
func (r *Registry) For(category types.Category) (Handler, bool) {
	h, ok := r.byCategory[category]
	return h, ok
}

// HasGroundTruth reports whether category has a handler suitable as a
// validation reference for LLM answers.
func (r *Registry) HasGroundTruth(category types.Category) bool {
	switch category {
	case types.CategoryWeather, types.CategorySports, types.CategoryNews,
		types.CategoryStocks, types.CategoryFlights, types.CategoryEvents:
		_, ok := r.byCategory[category]
		return ok
	}
	return false
}

// Fallback returns the category-specific graceful failure message used when
// every path is exhausted.
func Fallback(category types.Category) string {
	switch category {
	case types.CategoryWeather:
		return "I couldn't reach the weather service right now."
	case types.CategorySports:
		return "I couldn't get the latest sports information right now."
	case types.CategoryEvents:
		return "I couldn't look up events right now."
	case types.CategoryStreaming:
		return "I couldn't check streaming availability right now."
	case types.CategoryNews:
		return "I couldn't fetch the news right now."
	case types.CategoryStocks:
		return "I couldn't get market data right now."
	case types.CategoryFlights:
		return "I couldn't check flight status right now."
	case types.CategoryHomeControl:
		return "I couldn't reach your devices right now."
	default:
		return "Sorry, I couldn't find an answer to that right now."
	}
}

// defaultTimeout bounds one upstream request when the endpoint config does
// not override it.
const defaultTimeout = 5 * time.Second

// upstream is the shared HTTP plumbing under every external-source handler.
type upstream struct {
	name     string
	category types.Category
	base     string
	key      string
	hc       *http.Client
	breaker  *resilience.CircuitBreaker
	retry    resilience.RetryConfig
	budget   *resilience.Budget
}

func newUpstream(name string, category types.Category, ep config.Endpoint, budget *resilience.Budget) upstream {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return upstream{
		name:     name,
		category: category,
		base:     strings.TrimRight(ep.BaseURL, "/"),
		key:      ep.APIKey,
		hc:       &http.Client{Timeout: timeout},
		breaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: name}),
		retry:    resilience.RetryConfig{},
		budget:   budget,
	}
}

// configured reports whether the upstream has a base URL. Handlers decline
// rather than fail when their source is not configured.
func (u *upstream) configured() bool { return u.base != "" }

// getJSON performs a budgeted, breaker-guarded, retried GET and decodes the
// JSON body into out.
func (u *upstream) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	if u.budget != nil && !u.budget.Allow(string(u.category)) {
		return types.RateLimited(u.name)
	}

	// Parse and rate-limit failures are terminal; the retry loop stops on
	// them instead of hammering the source with a request it cannot serve.
	var terminal error
	err := u.breaker.Execute(func() error {
		return resilience.Retry(ctx, u.retry, func(ctx context.Context) error {
			err := u.do(ctx, path, q, out)
			if err != nil && !retryable(err) {
				terminal = err
				return nil
			}
			return err
		})
	})
	if terminal != nil {
		return terminal
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return types.Upstream(u.name, err)
	}
	return err
}

func (u *upstream) do(ctx context.Context, path string, q url.Values, out any) error {
	reqURL := u.base + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return types.Upstream(u.name, err)
	}
	if u.key != "" {
		req.Header.Set("Authorization", "Bearer "+u.key)
	}

	resp, err := u.hc.Do(req)
	if err != nil {
		return types.Upstream(u.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.RateLimited(u.name)
	case resp.StatusCode >= 500:
		return types.Upstream(u.name, fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return types.ParseFailed(u.name, fmt.Errorf("status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.ParseFailed(u.name, err)
	}
	return nil
}

func retryable(err error) bool {
	if types.IsRateLimited(err) {
		return false
	}
	var pe *types.ParseError
	return !errors.As(err, &pe)
}
