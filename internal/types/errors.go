package types

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the pipeline failure taxonomy. Handlers and stages
// classify their failures into one of these so the orchestrator can decide
// whether to escalate to the next path, recover, or fail the request.
var (
	// ErrConfigUnavailable means dynamic configuration could not be fetched
	// and no last-known-good snapshot exists.
	ErrConfigUnavailable = errors.New("configuration unavailable")

	// ErrNotApplicable is a handler's way of declining a query it cannot
	// serve. The caller tries the next path; this is not a fault.
	ErrNotApplicable = errors.New("handler not applicable")

	// ErrHallucinationDetected means validated LLM output contradicts the
	// ground-truth handler answer.
	ErrHallucinationDetected = errors.New("hallucination detected")

	// ErrClarificationRequired signals a disambiguation round-trip. Normal
	// control flow, never surfaced to the user as a failure.
	ErrClarificationRequired = errors.New("clarification required")

	// ErrSessionExpired means the referenced session passed its inactivity
	// timeout. Callers recreate silently.
	ErrSessionExpired = errors.New("session expired")

	// ErrDeadlineExceeded means the overall request deadline fired with no
	// usable partial response.
	ErrDeadlineExceeded = errors.New("request deadline exceeded")

	// ErrInvariantViolated marks an internal inconsistency. Fatal for the
	// request; logged at critical level.
	ErrInvariantViolated = errors.New("internal invariant violated")
)

// UpstreamError wraps a failure of a named external service. It is
// retryable: the caller escalates to the next path.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an UpstreamError for service.
func Upstream(service string, err error) error {
	return &UpstreamError{Service: service, Err: err}
}

// IsUpstream reports whether err is an UpstreamError and returns the service
// name when it is.
func IsUpstream(err error) (string, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Service, true
	}
	return "", false
}

// RateLimitedError means a service's daily request budget is exhausted.
type RateLimitedError struct {
	Service string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %s", e.Service)
}

// RateLimited constructs a RateLimitedError for service.
func RateLimited(service string) error {
	return &RateLimitedError{Service: service}
}

// IsRateLimited reports whether err is a RateLimitedError.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// ParseError means an external service answered but its payload could not be
// interpreted. Not retryable against the same payload.
type ParseError struct {
	Service string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", e.Service, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFailed wraps err as a ParseError for service.
func ParseFailed(service string, err error) error {
	return &ParseError{Service: service, Err: err}
}

// Recoverable reports whether err is one of the locally recoverable handler
// failures: the caller should escalate to the next path rather than fail the
// request.
func Recoverable(err error) bool {
	if errors.Is(err, ErrNotApplicable) {
		return true
	}
	if _, ok := IsUpstream(err); ok {
		return true
	}
	if IsRateLimited(err) {
		return true
	}
	var pe *ParseError
	return errors.As(err, &pe)
}
