package store

import (
	"context"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/quantumauth-io/quantum-go-drm/redis"
)

type RedisStore struct {
	rdb goredis.UniversalClient
	cfg redis.Config
}

func NewRedisStore(rdb goredis.UniversalClient, cfg redis.Config) *RedisStore {
	return &RedisStore{rdb: rdb, cfg: cfg}
}

func (s *RedisStore) key(key string) string {
	return s.cfg.Key("blob", key)
}

func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, errors.Wrapf(errInvalidKey, "%q", key)
	}
	return withRetry(ctx, "redis store load", func(ctx context.Context) ([]byte, error) {
		b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, errors.Wrap(err, "redis get")
		}
		return b, nil
	})
}

func (s *RedisStore) Save(ctx context.Context, key string, blob []byte) error {
	if !validKey(key) {
		return errors.Wrapf(errInvalidKey, "%q", key)
	}
	_, err := withRetry(ctx, "redis store save", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, errors.Wrap(s.rdb.Set(ctx, s.key(key), blob, 0).Err(), "redis set")
	})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return errors.Wrapf(errInvalidKey, "%q", key)
	}
	_, err := withRetry(ctx, "redis store delete", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, errors.Wrap(s.rdb.Del(ctx, s.key(key)).Err(), "redis del")
	})
	return err
}
