package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		SlowDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestDoStopsImmediatelyOnFatalError(t *testing.T) {
	fatal := errors.New("401 unauthorized")
	calls := 0

	_, err := Do(context.Background(), fastConfig(), nil, "op",
		func(error) Decision { return Stop },
		func(context.Context) (string, error) {
			calls++
			return "", fatal
		})

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls, "fatal errors must not be retried")
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	transient := errors.New("503 overloaded")
	calls := 0

	result, err := Do(context.Background(), fastConfig(), nil, "op",
		func(error) Decision { return RetrySlow },
		func(context.Context) (string, error) {
			calls++
			if calls <= 2 {
				return "", transient
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls, "two delayed retries then success")
}

func TestDoPropagatesLastErrorUnchanged(t *testing.T) {
	first := errors.New("first")
	last := errors.New("last")
	calls := 0

	_, err := Do(context.Background(), fastConfig(), nil, "op",
		func(error) Decision { return Retry },
		func(context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, first
			}
			return 0, last
		})

	require.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastConfig()
	cfg.BaseDelay = time.Minute
	cfg.MaxDelay = time.Minute

	_, err := Do(ctx, cfg, nil, "op",
		func(error) Decision { return Retry },
		func(context.Context) (string, error) {
			cancel()
			return "", errors.New("transient")
		})

	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigDelay(t *testing.T) {
	cfg := Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		SlowDelay:   3 * time.Second,
		MaxDelay:    30 * time.Second,
	}

	tests := []struct {
		name     string
		decision Decision
		attempt  int
		want     time.Duration
	}{
		{"short base first attempt", Retry, 0, time.Second},
		{"short base doubles", Retry, 1, 2 * time.Second},
		{"slow base first attempt", RetrySlow, 0, 3 * time.Second},
		{"slow base doubles", RetrySlow, 1, 6 * time.Second},
		{"capped at max", RetrySlow, 5, 30 * time.Second},
		{"short capped at max", Retry, 10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Delay(tt.decision, tt.attempt))
		})
	}
}
