package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps go-redis client with a logger.
type Client struct {
	*redis.Client
	logger *slog.Logger
}

type Options struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.Timeout,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info("redis client connected", "addr", opts.Addr)
	return &Client{Client: rdb, logger: logger}, nil
}

// Check reports whether the server answers a PING, for health endpoints.
func (c *Client) Check(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
