package backoff

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config holds backoff configuration. The schedule is a fixed exponential
// curve with no jitter: reconnect timing must be deterministic and testable.
type Config struct {
	BaseDelay   time.Duration // delay after the first failure
	Multiplier  float64       // growth factor per attempt (1.5 for reconnects)
	MaxAttempts int           // total attempts before giving up
	MaxDelay    time.Duration // cap on a single delay
}

// DefaultConfig returns the reconnect defaults.
func DefaultConfig() Config {
	return Config{
		BaseDelay:   time.Second,
		Multiplier:  1.5,
		MaxAttempts: 5,
		MaxDelay:    30 * time.Second,
	}
}

// Delay returns the wait after 1-indexed failed attempt n:
// base * multiplier^(n-1), capped at MaxDelay.
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// Retry executes fn up to MaxAttempts times following the schedule. retryable
// decides whether a failure is worth another attempt; a nil retryable retries
// everything.
func Retry(ctx context.Context, cfg Config, fn func() error, retryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during wait: %w", ctx.Err())
		case <-time.After(cfg.Delay(attempt)):
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}
