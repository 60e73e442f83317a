package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

// Options are the per-call generation knobs. Zero values defer to the
// backend row's defaults; Temperature below zero also defers.
type Options struct {
	Temperature float64
	MaxTokens   int
	History     []types.Message
}

// DefaultOptions defers every knob to the backend row.
func DefaultOptions() Options {
	return Options{Temperature: -1}
}

// Router resolves a model name to a backend endpoint via the dynamic
// routing table and generates through the protocol the endpoint speaks.
// "auto" rows fall back to the primary endpoint on error or timeout.
type Router struct {
	loader  *config.Loader
	primary config.Endpoint

	generate    Provider
	completions Provider
	hosted      Provider // nil unless any-llm providers are configured

	mu    sync.Mutex
	stats map[string]*backendStats
}

// backendStats accumulates rolling metrics under the router's per-backend
// guard.
type backendStats struct {
	mu            sync.Mutex
	totalRequests int64
	totalErrors   int64
	totalLatency  time.Duration
	totalTokens   int64
	totalGenTime  time.Duration
}

// RouterOption configures a [Router].
type RouterOption func(*Router)

// WithHostedProvider routes "anyllm:{provider}" endpoints through p.
func WithHostedProvider(p Provider) RouterOption {
	return func(r *Router) { r.hosted = p }
}

// NewRouter creates a Router. primary is the endpoint used by "auto"
// fallback and by models with no routing row.
func NewRouter(loader *config.Loader, primary config.Endpoint, opts ...RouterOption) *Router {
	r := &Router{
		loader:      loader,
		primary:     primary,
		generate:    NewGenerateClient(),
		completions: NewCompletionsClient(primary.APIKey),
		stats:       make(map[string]*backendStats),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Generate produces text for model. The routing row decides endpoint,
// defaults, and timeout; rolling metrics are updated on every outcome.
func (r *Router) Generate(ctx context.Context, model, prompt string, opts Options) (Response, error) {
	row, ok := r.loader.Backend(ctx, model)
	if !ok {
		slog.Warn("llm: no routing row for model, using defaults", "model", model)
		row = types.LLMBackend{
			ModelName:          model,
			BackendType:        types.BackendPrimary,
			Endpoint:           r.primary.BaseURL,
			MaxTokens:          config.DefaultMaxTokens,
			DefaultTemperature: config.DefaultTemperature,
			Timeout:            config.DefaultLLMTimeout,
		}
	}

	req := Request{
		Model:       model,
		Prompt:      prompt,
		History:     opts.History,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if req.Temperature < 0 {
		req.Temperature = row.DefaultTemperature
		if req.Temperature <= 0 {
			req.Temperature = config.DefaultTemperature
		}
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = row.MaxTokens
		if req.MaxTokens == 0 {
			req.MaxTokens = config.DefaultMaxTokens
		}
	}
	timeout := row.Timeout
	if timeout <= 0 {
		timeout = config.DefaultLLMTimeout
	}

	endpoints := []string{row.Endpoint}
	if row.BackendType == types.BackendAuto && r.primary.BaseURL != "" && r.primary.BaseURL != row.Endpoint {
		endpoints = append(endpoints, r.primary.BaseURL)
	}

	var lastErr error
	for _, endpoint := range endpoints {
		if endpoint == "" {
			lastErr = fmt.Errorf("llm: no endpoint for model %q", model)
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := r.provider(endpoint).Generate(callCtx, endpoint, req)
		cancel()

		if err == nil {
			r.recordSuccess(endpoint, resp)
			return resp, nil
		}
		r.recordError(endpoint)
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		slog.Warn("llm: backend failed", "model", model, "endpoint", endpoint, "err", err)
	}
	return Response{}, fmt.Errorf("llm: generate %q: %w", model, lastErr)
}

// provider picks the protocol client for an endpoint: "anyllm:{name}" goes
// to the hosted provider, paths containing /v1 speak the completions
// surface, everything else speaks /generate.
func (r *Router) provider(endpoint string) Provider {
	if strings.HasPrefix(endpoint, "anyllm:") && r.hosted != nil {
		return r.hosted
	}
	if strings.Contains(endpoint, "/v1") {
		return r.completions
	}
	return r.generate
}

// Stats returns the rolling metrics for one endpoint.
func (r *Router) Stats(endpoint string) types.BackendStats {
	s := r.backendStats(endpoint)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := types.BackendStats{
		TotalRequests: s.totalRequests,
		TotalErrors:   s.totalErrors,
	}
	if n := s.totalRequests - s.totalErrors; n > 0 {
		out.AvgLatencyMs = float64(s.totalLatency.Milliseconds()) / float64(n)
	}
	if secs := s.totalGenTime.Seconds(); secs > 0 {
		out.AvgTokensPerSec = float64(s.totalTokens) / secs
	}
	return out
}

func (r *Router) backendStats(endpoint string) *backendStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[endpoint]
	if !ok {
		s = &backendStats{}
		r.stats[endpoint] = s
	}
	return s
}

func (r *Router) recordSuccess(endpoint string, resp Response) {
	s := r.backendStats(endpoint)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.totalLatency += resp.Duration
	s.totalTokens += int64(resp.Usage.CompletionTokens)
	s.totalGenTime += resp.Duration
}

func (r *Router) recordError(endpoint string) {
	s := r.backendStats(endpoint)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.totalErrors++
}
