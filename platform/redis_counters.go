package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/quantumauth-io/quantum-go-drm/redis"
	"github.com/quantumauth-io/quantum-go-drm/tee"
)

// INCR would create a missing key; counters must stay destroyed.
var incrementScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("INCR", KEYS[1])
`)

// RedisCounters keeps monotonic counters in Redis so a fleet of simulated
// platforms can share them. It offers none of the rollback protection of
// hardware counters and exists for testing clusters.
type RedisCounters struct {
	rdb goredis.UniversalClient
	cfg redis.Config
}

var _ tee.MonotonicCounters = (*RedisCounters)(nil)

func NewRedisCounters(rdb goredis.UniversalClient, cfg redis.Config) *RedisCounters {
	return &RedisCounters{rdb: rdb, cfg: cfg}
}

func (c *RedisCounters) key(id tee.CounterID) string {
	return c.cfg.Key("counter", uuid.UUID(id).String())
}

func (c *RedisCounters) Create(ctx context.Context) (tee.CounterID, uint32, error) {
	id := tee.CounterID(uuid.New())
	ok, err := c.rdb.SetNX(ctx, c.key(id), 0, 0).Result()
	if err != nil {
		return tee.CounterID{}, 0, serviceErr(err)
	}
	if !ok {
		return tee.CounterID{}, 0, fmt.Errorf("platform: counter id collision %s", id)
	}
	return id, 0, nil
}

func (c *RedisCounters) Read(ctx context.Context, id tee.CounterID) (uint32, error) {
	v, err := c.rdb.Get(ctx, c.key(id)).Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, tee.ErrCounterNotFound
	}
	if err != nil {
		return 0, serviceErr(err)
	}
	if v > uint64(^uint32(0)) {
		return 0, tee.ErrCounterOverflowed
	}
	return uint32(v), nil
}

func (c *RedisCounters) Increment(ctx context.Context, id tee.CounterID) (uint32, error) {
	v, err := incrementScript.Run(ctx, c.rdb, []string{c.key(id)}).Int64()
	if err != nil {
		return 0, serviceErr(err)
	}
	switch {
	case v < 0:
		return 0, tee.ErrCounterNotFound
	case v > int64(^uint32(0)):
		return 0, tee.ErrCounterOverflowed
	}
	return uint32(v), nil
}

func (c *RedisCounters) Destroy(ctx context.Context, id tee.CounterID) error {
	n, err := c.rdb.Del(ctx, c.key(id)).Result()
	if err != nil {
		return serviceErr(err)
	}
	if n == 0 {
		return tee.ErrCounterNotFound
	}
	return nil
}

func serviceErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", tee.ErrServiceDown, err)
}
