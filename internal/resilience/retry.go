package resilience

import (
	"context"
	"time"
)

// RetryConfig bounds a [Retry] loop.
type RetryConfig struct {
	// Attempts is the maximum number of calls, including the first.
	// Default: 3.
	Attempts int

	// InitialBackoff is the wait before the first retry. Each subsequent
	// wait doubles. Default: 200ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubled wait. Default: 2s.
	MaxBackoff time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	return c
}

// Retry calls fn until it succeeds, the attempt budget is exhausted, or ctx
// is cancelled, doubling the backoff between attempts. The last error is
// returned when all attempts fail; ctx.Err() is returned when cancellation
// interrupts a backoff wait.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	backoff := cfg.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}
