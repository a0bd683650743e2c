// Package redis implements domain cache interfaces using go-redis/v9: the
// price mirror, the sweep leader lock, the API rate limiter and the signal bus.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// defaultPrefix namespaces every key and channel this package touches.
const defaultPrefix = "startraders:"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix overrides defaultPrefix.
	KeyPrefix string
}

// Client is a go-redis client plus the key namespace.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := Wrap(redis.NewClient(opts), cfg.KeyPrefix)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Wrap adapts an existing go-redis client. An empty prefix selects the default.
func Wrap(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// key joins parts with ':' under the client prefix.
func (c *Client) key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}
