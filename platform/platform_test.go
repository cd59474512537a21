package platform

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-go-drm/redis"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

func exerciseCounters(t *testing.T, c tee.MonotonicCounters) {
	ctx := context.Background()

	id, v, err := c.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v)

	got, err := c.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got)

	v, err = c.Increment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), v)

	got, err = c.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), got)

	other, _, err := c.Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	require.NoError(t, c.Destroy(ctx, id))
	_, err = c.Read(ctx, id)
	assert.ErrorIs(t, err, tee.ErrCounterNotFound)
	_, err = c.Increment(ctx, id)
	assert.ErrorIs(t, err, tee.ErrCounterNotFound)
	assert.ErrorIs(t, c.Destroy(ctx, id), tee.ErrCounterNotFound)

	require.NoError(t, c.Destroy(ctx, other))
}

func TestSimulatedCounters(t *testing.T) {
	exerciseCounters(t, NewSimulated().Counters())
}

func TestSimulatedCounterQuota(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated(WithMaxCounters(1))

	id, _, err := s.Counters().Create(ctx)
	require.NoError(t, err)
	_, _, err = s.Counters().Create(ctx)
	assert.ErrorIs(t, err, tee.ErrCounterExhausted)

	require.NoError(t, s.Counters().Destroy(ctx, id))
	_, _, err = s.Counters().Create(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 1, s.LiveCounters())
}

func TestSimulatedConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	c := NewSimulated().Counters()
	id, _, err := c.Create(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Increment(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := c.Read(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(50), v)
}

func TestSimulatedClock(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewSimulated(WithClock(func() time.Time { return now }))

	secs, nonce, err := s.Clock().Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_700_000_000), secs)

	_, again, err := s.Clock().Now(ctx)
	require.NoError(t, err)
	assert.Equal(t, nonce, again)

	s.ResetTimeSource()
	_, rotated, err := s.Clock().Now(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, nonce, rotated)
}

func TestSimulatedServiceDown(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	s.SetServiceDown(true)

	_, _, err := s.Counters().Create(ctx)
	assert.ErrorIs(t, err, tee.ErrServiceDown)
	_, _, err = s.Clock().Now(ctx)
	assert.ErrorIs(t, err, tee.ErrServiceDown)

	s.SetServiceDown(false)
	_, _, err = s.Counters().Create(ctx)
	assert.NoError(t, err)
}

func TestSimulatedCapabilities(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated(WithCapabilities(tee.TrustedTime), WithSecurityVersion(2))

	caps, err := s.QueryCapabilities(ctx)
	require.NoError(t, err)
	assert.True(t, caps.Has(tee.TrustedTime))
	assert.False(t, caps.Has(tee.MonotonicCounter))
	assert.Equal(t, uint16(2), s.SecurityVersion())

	s.SetCapabilities(tee.MonotonicCounter | tee.TrustedTime)
	caps, err = s.QueryCapabilities(ctx)
	require.NoError(t, err)
	assert.True(t, caps.Has(tee.MonotonicCounter|tee.TrustedTime))

	s.SetSecurityVersion(1)
	assert.Equal(t, uint16(1), s.SecurityVersion())
}

// Runs against a real Redis when QDRM_TEST_REDIS_HOST is set.
func TestRedisCounters(t *testing.T) {
	host := os.Getenv("QDRM_TEST_REDIS_HOST")
	if host == "" {
		t.Skip("QDRM_TEST_REDIS_HOST not set")
	}
	cfg := redis.Config{Host: host, KeyPrefix: "qdrm-test"}
	rdb, err := redis.NewClient(context.Background(), cfg)
	require.NoError(t, err)
	defer rdb.Close()

	c := NewRedisCounters(rdb, cfg)
	exerciseCounters(t, c)

	s := NewSimulated(WithCounters(c))
	assert.Same(t, c, s.Counters())
}
