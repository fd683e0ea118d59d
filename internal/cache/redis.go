// Package cache opens the Redis client backing issuance rate limiting.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client so it can be handed to health checks.
type Client struct {
	*redis.Client
}

// Connect parses a redis:// URL, builds the client and pings it.
func Connect(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, errors.New("cache: REDIS_URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 5 * time.Second
	c := &Client{Client: redis.NewClient(opts)}
	if err := c.PingContext(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// PingContext satisfies health.Pinger.
func (c *Client) PingContext(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.Ping(pingCtx).Err()
}
