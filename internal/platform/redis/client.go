// Package redis builds the shared go-redis client used by the session store
// and the sweep lock.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"kycflow/internal/platform/config"
)

const pingTimeout = 5 * time.Second

// Client embeds the go-redis client so callers can hand it straight to
// libraries that expect *redis.Client.
type Client struct {
	*redis.Client
}

// New connects to cfg.URL and pings it. It returns nil, nil when no URL is
// configured so callers can treat Redis as optional.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}

	client := &Client{Client: redis.NewClient(opts)}
	if err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	for dst, v := range map[*time.Duration]time.Duration{
		&opts.DialTimeout:  cfg.DialTimeout,
		&opts.ReadTimeout:  cfg.ReadTimeout,
		&opts.WriteTimeout: cfg.WriteTimeout,
	} {
		if v > 0 {
			*dst = v
		}
	}
	return opts, nil
}

// Health pings the server with a bounded timeout.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.Ping(ctx).Err()
}
