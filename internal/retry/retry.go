// Package retry implements retry with exponential backoff for calls against
// the generation backend.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Decision tells the retrier what to do with a failed attempt.
type Decision int

const (
	// Stop propagates the error immediately; the failure is not transient.
	Stop Decision = iota
	// Retry backs off from the short base delay (rate limiting and the like).
	Retry
	// RetrySlow backs off from the long base delay (backend overload).
	RetrySlow
)

// ClassifyFunc maps an attempt's error to a Decision.
type ClassifyFunc func(error) Decision

// Config defines retry behavior.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	SlowDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the retry behavior used against the generation
// backend: three total attempts, 1s base for rate limits, 3s base for
// overload, both doubling per attempt up to 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		SlowDelay:   3 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.SlowDelay <= 0 {
		c.SlowDelay = d.SlowDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// Delay computes the backoff before attempt+1, doubling per attempt and
// capped at MaxDelay. attempt is zero-based.
func (c Config) Delay(decision Decision, attempt int) time.Duration {
	base := c.BaseDelay
	if decision == RetrySlow {
		base = c.SlowDelay
	}
	delay := base << uint(attempt)
	if delay > c.MaxDelay || delay <= 0 {
		delay = c.MaxDelay
	}
	return delay
}

// Do executes fn, retrying transient failures per classify. The last error is
// propagated unchanged once attempts are exhausted or a failure is classified
// as Stop.
func Do[T any](ctx context.Context, cfg Config, log *slog.Logger, op string, classify ClassifyFunc, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 0 && log != nil {
				log.Info("operation succeeded after retry", "op", op, "attempt", attempt+1)
			}
			return result, nil
		}
		lastErr = err

		decision := classify(err)
		if decision == Stop {
			return zero, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.Delay(decision, attempt)
		if log != nil {
			log.Warn("retrying operation after error",
				"op", op,
				"attempt", attempt+1,
				"max_attempts", cfg.MaxAttempts,
				"delay", delay,
				"err", err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}
