// Copyright 2025 Parlo
// SPDX-License-Identifier: Apache-2.0

// Package cache wraps the Redis client used as the fast, TTL-bearing
// counter and settings store. Every operation carries its own short
// timeout; callers treat any error as "cache absent" and fall back to the
// durable store, so nothing here is allowed to block a request for long.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrUnavailable is returned by every method when the client has no
// underlying connection.
var ErrUnavailable = errors.New("cache unavailable")

// Client is a thin wrapper over go-redis with per-call timeouts.
type Client struct {
	rdb     *redis.Client
	timeout time.Duration
}

// Connect parses a redis URL, establishes a pooled connection and pings
// it once.
func Connect(url string, timeout time.Duration) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return New(rdb, timeout), nil
}

// New wraps an existing redis client. Used directly by tests running
// against miniredis.
func New(rdb *redis.Client, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Client{rdb: rdb, timeout: timeout}
}

func (c *Client) ready() bool {
	return c != nil && c.rdb != nil
}

func (c *Client) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// Get returns the raw string value and whether the key exists.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	if !c.ready() {
		return "", false, ErrUnavailable
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// GetInt64 reads a counter key. A missing key reports found=false with no
// error; a malformed value is an error, never silently zero.
func (c *Client) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	if !c.ready() {
		return 0, false, ErrUnavailable
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// Set stores a value with an optional TTL (0 means no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !c.ready() {
		return ErrUnavailable
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// IncrAll applies all deltas in one transactional pipeline, so a
// concurrent reader observes either none or all of the increments. The
// returned map holds the post-increment value per key: a value equal to
// the delta means the key was created by this call, which is how callers
// decide to set an initial TTL without ever shortening an existing one.
func (c *Client) IncrAll(ctx context.Context, deltas map[string]int64) (map[string]int64, error) {
	if !c.ready() {
		return nil, ErrUnavailable
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	pipe := c.rdb.TxPipeline()
	cmds := make(map[string]*redis.IntCmd, len(deltas))
	for key, delta := range deltas {
		cmds[key] = pipe.IncrBy(ctx, key, delta)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	values := make(map[string]int64, len(cmds))
	for key, cmd := range cmds {
		values[key] = cmd.Val()
	}
	return values, nil
}

// Expire sets a TTL on a key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if !c.ready() {
		return ErrUnavailable
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// TTL reports the remaining TTL for a key. Keys without expiry report a
// negative duration, as redis does.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if !c.ready() {
		return 0, ErrUnavailable
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.TTL(ctx, key).Result()
}

// Del removes keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if !c.ready() {
		return ErrUnavailable
	}
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Del(ctx, keys...).Err()
}

// ScanPrefix collects all keys matching a pattern via cursor SCAN.
func (c *Client) ScanPrefix(ctx context.Context, pattern string) ([]string, error) {
	if !c.ready() {
		return nil, ErrUnavailable
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// DeleteByPrefix removes every key matching the pattern and returns how
// many were deleted.
func (c *Client) DeleteByPrefix(ctx context.Context, pattern string) (int, error) {
	keys, err := c.ScanPrefix(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := c.Del(ctx, keys...); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Ping verifies the connection.
func (c *Client) Ping(ctx context.Context) error {
	if !c.ready() {
		return ErrUnavailable
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	if !c.ready() {
		return nil
	}
	return c.rdb.Close()
}
