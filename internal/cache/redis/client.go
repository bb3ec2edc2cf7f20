// Package redis implements the domain cache, lock, rate-limit and event bus
// interfaces using go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// clientName tags the bot's connections in CLIENT LIST.
const clientName = "signalbot"

const (
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 3 * time.Second
)

// ClientConfig holds connection parameters for the Redis client. Zero
// timeouts fall back to the package defaults.
type ClientConfig struct {
	Addr          string
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	MaxRetries    int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSServerName string
}

// Client owns the go-redis connection pool shared by the caches and the
// event bus.
type Client struct {
	rdb  *redis.Client
	addr string
}

// options maps cfg onto go-redis options. ContextTimeoutEnabled makes the
// per-call deadlines the services set (quote fetches, monitor ticks) apply to
// the socket too.
func options(cfg ClientConfig) *redis.Options {
	opts := &redis.Options{
		Addr:                  cfg.Addr,
		ClientName:            clientName,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		PoolSize:              cfg.PoolSize,
		MinIdleConns:          cfg.MinIdleConns,
		MaxRetries:            cfg.MaxRetries,
		DialTimeout:           orDefault(cfg.DialTimeout, defaultDialTimeout),
		ReadTimeout:           orDefault(cfg.ReadTimeout, defaultIOTimeout),
		WriteTimeout:          orDefault(cfg.WriteTimeout, defaultIOTimeout),
		ContextTimeoutEnabled: true,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.TLSServerName,
		}
	}
	return opts
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// New connects to Redis and pings it within the dial timeout.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := options(cfg)
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb, addr: cfg.Addr}, nil
}

// Ping reports whether Redis answers. The health endpoint calls it.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
