package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/quantumauth-io/quantum-go-drm/log"
)

func SleepWithContext(ctx context.Context, duration time.Duration) {
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func Min[V int | int64 | time.Duration](a V, b V) V {
	if a <= b {
		return a
	}
	return b
}

type Config struct {
	MaxNumRetries                int32
	InitialDelayBeforeRetrying   time.Duration
	MaxDelayBeforeRetrying       time.Duration
	ShouldLogFirstFailure        bool
	LogEveryNthFailure           int32
	LogLevelWhenFailure          log.Level
	ShouldLogNumRetriesOnSuccess bool
	LogLevelWhenSuccess          log.Level
}

const (
	/* (S)tructured (L)ogging */
	SLnumRetries    = "numRetries"
	InfiniteRetries = -1
)

func DefaultConfig() *Config {
	return &Config{
		MaxNumRetries:                InfiniteRetries,
		InitialDelayBeforeRetrying:   100 * time.Millisecond,
		MaxDelayBeforeRetrying:       10 * time.Second,
		ShouldLogFirstFailure:        true,
		LogEveryNthFailure:           10,
		LogLevelWhenFailure:          log.WarnLevel,
		ShouldLogNumRetriesOnSuccess: false,
		LogLevelWhenSuccess:          log.DebugLevel,
	}
}

// StorageConfig is the profile used for sealed blob I/O: a handful of quick
// attempts, since the caller is usually blocked on a DRM operation.
func StorageConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxNumRetries = 4
	cfg.InitialDelayBeforeRetrying = 50 * time.Millisecond
	cfg.MaxDelayBeforeRetrying = 1 * time.Second
	return cfg
}

/*
Do runs operationFn until it succeeds, shouldRetryFn rejects the error, the
retry budget is spent or ctx is done. Pass nil for shouldRetryFn in order to
always retry.
*/
func Do[T any](ctx context.Context, cfg *Config, operationFn func(ctx context.Context) (T, error),
	shouldRetryFn func(error) bool, descriptionOfOperation string) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	delay := cfg.InitialDelayBeforeRetrying
	var numRetries int32
	var zero T

	for {
		result, err := operationFn(ctx)
		if err == nil {
			if numRetries > 0 && cfg.ShouldLogNumRetriesOnSuccess {
				log.Log(cfg.LogLevelWhenSuccess, fmt.Sprintf("Ultimately succeeded: %s", descriptionOfOperation),
					SLnumRetries, numRetries)
			}
			return result, nil
		}

		if cfg.MaxNumRetries != InfiniteRetries && numRetries == cfg.MaxNumRetries {
			return zero, errors.Wrapf(err, "Failed after max %d retries: %s", numRetries, descriptionOfOperation)
		}

		if shouldRetryFn != nil && !shouldRetryFn(err) {
			return zero, errors.Wrapf(err, "Failed, unretryable, after %d retries: %s", numRetries,
				descriptionOfOperation)
		}

		numRetries++

		if numRetries > 1 {
			delay = Min(delay*2, cfg.MaxDelayBeforeRetrying)
		}

		if (cfg.ShouldLogFirstFailure && numRetries == 1) ||
			(cfg.LogEveryNthFailure > 0 && ((numRetries % cfg.LogEveryNthFailure) == 0)) {
			log.Log(cfg.LogLevelWhenFailure, fmt.Sprintf("Retrying failure: %s", descriptionOfOperation),
				"error", err, SLnumRetries, numRetries, "delayBeforeRetry", delay)
		}

		SleepWithContext(ctx, delay)
		if err2 := ctx.Err(); err2 != nil {
			return zero, errors.Wrapf(err, "Experienced context error during retry: %s - %s", descriptionOfOperation,
				err2.Error())
		}
	}
}
