package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"laneassist/internal/config"

	redis "github.com/redis/go-redis/v9"
)

// Client wraps go-redis client to centralize configuration.
type Client struct {
	inner *redis.Client
}

var errNotInitialized = errors.New("redis client not initialized")

// NewRedisClient creates the redis client from app config.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	host := cfg.Redis.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Redis.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Client{inner: client}, nil
}

// NewFromAddr dials addr without reading app config. Used by tests and tooling.
func NewFromAddr(addr string) *Client {
	return &Client{inner: redis.NewClient(&redis.Options{Addr: addr})}
}

// SetNX stores key only if it does not exist yet. It reports whether the key was written.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if c == nil || c.inner == nil {
		return false, errNotInitialized
	}
	return c.inner.SetNX(ctx, key, value, ttl).Result()
}

// PushCapped prepends value to the list at key and trims it to capacity entries
// in a single MULTI block. A positive ttl refreshes the key expiry.
func (c *Client) PushCapped(ctx context.Context, key string, value interface{}, capacity int, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	if capacity <= 0 {
		return fmt.Errorf("invalid list capacity %d", capacity)
	}
	_, err := c.inner.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, int64(capacity-1))
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

// Head returns the first n elements of the list at key, newest first.
func (c *Client) Head(ctx context.Context, key string, n int) ([]string, error) {
	if c == nil || c.inner == nil {
		return nil, errNotInitialized
	}
	if n <= 0 {
		return nil, nil
	}
	return c.inner.LRange(ctx, key, 0, int64(n-1)).Result()
}

// Ping checks connectivity for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Ping(ctx).Err()
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
