// Package redis connects the blob store and the simulated counter service to
// a shared Redis.
package redis

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/quantumauth-io/quantum-go-drm/retry"
)

type Config struct {
	Host         string        // "localhost"
	Port         string        // "6379"
	Username     string        // optional
	Password     string        // optional
	DB           int           // default 0
	TLS          bool          // enable TLS
	DialTimeout  time.Duration // default 5s
	ReadTimeout  time.Duration // default 3s
	WriteTimeout time.Duration // default 3s

	// KeyPrefix namespaces every key written by this module.
	KeyPrefix string // default "qdrm"
}

func (c Config) Prefix() string {
	if c.KeyPrefix == "" {
		return "qdrm"
	}
	return c.KeyPrefix
}

// Key joins the configured prefix and parts with ':'.
func (c Config) Key(parts ...string) string {
	k := c.Prefix()
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// NewClient creates and pings a Redis client, retrying the ping.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	opts := &redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	_, err := retry.Do(ctx, retry.StorageConfig(), func(ctx context.Context) (string, error) {
		return rdb.Ping(ctx).Result()
	}, nil, "redis ping")
	if err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connect redis %s", opts.Addr)
	}

	return rdb, nil
}
