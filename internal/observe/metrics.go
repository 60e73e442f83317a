// Package observe provides application-wide observability primitives for
// Hearth: OpenTelemetry metrics, structured logging helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics are scraped
// via the standard /metrics endpoint. Tests should use [NewMetrics] with a
// private [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Hearth metrics.
const meterName = "github.com/openhearth/hearth"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// ClassifyDuration tracks intent classification latency.
	ClassifyDuration metric.Float64Histogram

	// HandlerDuration tracks facade handler latency. Attribute: "category".
	HandlerDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency. Attribute: "backend".
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// RequestDuration tracks end-to-end request latency.
	RequestDuration metric.Float64Histogram

	// --- Counters ---

	// Requests counts pipeline requests. Attribute: "status" (ok | error |
	// clarification).
	Requests metric.Int64Counter

	// CacheHits and CacheMisses count tiered-cache probes. Attributes:
	// "category", and for hits "tier" (memory | redis | disk).
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter

	// HandlerResults counts facade outcomes. Attributes: "category",
	// "result" (ok | decline | error).
	HandlerResults metric.Int64Counter

	// Fallbacks counts escalations to the next cascade path. Attribute:
	// "from" (cache | function_call | facade | llm).
	Fallbacks metric.Int64Counter

	// Hallucinations counts validator rejections of LLM output.
	Hallucinations metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// PendingClarifications tracks sessions waiting on a disambiguation
	// answer.
	PendingClarifications metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// "method", "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "hearth.stt.duration", "Latency of speech-to-text transcription."},
		{&met.ClassifyDuration, "hearth.classify.duration", "Latency of intent classification."},
		{&met.HandlerDuration, "hearth.handler.duration", "Latency of facade handler execution."},
		{&met.LLMDuration, "hearth.llm.duration", "Latency of LLM inference."},
		{&met.TTSDuration, "hearth.tts.duration", "Latency of speech synthesis."},
		{&met.RequestDuration, "hearth.request.duration", "End-to-end request latency."},
		{&met.HTTPRequestDuration, "hearth.http.duration", "HTTP request processing time."},
	}
	for _, h := range histograms {
		hist, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = hist
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Requests, "hearth.requests.total", "Pipeline requests processed."},
		{&met.CacheHits, "hearth.cache.hits.total", "Tiered cache hits."},
		{&met.CacheMisses, "hearth.cache.misses.total", "Tiered cache misses."},
		{&met.HandlerResults, "hearth.handler.results.total", "Facade handler outcomes."},
		{&met.Fallbacks, "hearth.fallbacks.total", "Cascade escalations to the next path."},
		{&met.Hallucinations, "hearth.hallucinations.total", "Validator rejections of LLM output."},
	}
	for _, c := range counters {
		ctr, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = ctr
	}

	var err error
	if met.ActiveSessions, err = m.Int64UpDownCounter("hearth.sessions.active",
		metric.WithDescription("Live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.PendingClarifications, err = m.Int64UpDownCounter("hearth.clarifications.pending",
		metric.WithDescription("Sessions waiting on a disambiguation answer."),
	); err != nil {
		return nil, err
	}

	return met, nil
}
