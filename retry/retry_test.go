package retry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(max int32) *Config {
	cfg := DefaultConfig()
	cfg.MaxNumRetries = max
	cfg.InitialDelayBeforeRetrying = time.Millisecond
	cfg.MaxDelayBeforeRetrying = 2 * time.Millisecond
	return cfg
}

var errTransient = errors.New("transient")

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		got, err := Do(ctx, fastConfig(5), func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errTransient
			}
			return 42, nil
		}, nil, "flaky op")
		require.NoError(t, err)
		assert.Equal(t, 42, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops at max retries", func(t *testing.T) {
		calls := 0
		_, err := Do(ctx, fastConfig(2), func(context.Context) (string, error) {
			calls++
			return "", errTransient
		}, nil, "always failing")
		require.Error(t, err)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
	})

	t.Run("unretryable error returns immediately", func(t *testing.T) {
		permanent := errors.New("permanent")
		calls := 0
		_, err := Do(ctx, fastConfig(InfiniteRetries), func(context.Context) ([]byte, error) {
			calls++
			return nil, permanent
		}, func(err error) bool { return !errors.Is(err, permanent) }, "load blob")
		require.Error(t, err)
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation ends the loop", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Do(cctx, fastConfig(InfiniteRetries), func(context.Context) (int, error) {
			return 0, errTransient
		}, nil, "cancelled")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context")
	})
}

func TestMin(t *testing.T) {
	assert.Equal(t, 1, Min(1, 2))
	assert.Equal(t, time.Second, Min(2*time.Second, time.Second))
}
