// Package cache wraps redis for the hot, TTL-bounded state the processors
// need between events: previous positions for position-change detection
// and whale-alert dedup windows. Grounded directly on the
// teacher's cache/redis.go (Set/Get/Delete/Publish/Subscribe all kept),
// generalized with typed helpers for our own key shapes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps redis.Client.
type Client struct {
	rdb *redis.Client
}

// New creates a Client; a failed initial ping is logged but non-fatal —
// callers fall back to cold-cache behaviour (spec §9 treats a missing
// previous-state entry the same as a first sighting).
func New(host, port, password string) *Client {
	addr := fmt.Sprintf("%s:%s", host, port)
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️  cache: failed to connect to redis at %s: %v", addr, err)
		return &Client{rdb: rdb}
	}

	log.Printf("✅ cache: connected to redis at %s", addr)
	return &Client{rdb: rdb}
}

// Set stores value JSON-encoded with the given expiration (0 = no expiry).
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, expiration).Err()
}

// Get decodes a stored value into dest. Returns redis.Nil (use
// errors.Is(err, redis.Nil)) on cache miss.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(val), dest)
}

// Delete removes a key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Publish sends a JSON-encoded message to a channel.
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, channel, data).Err()
}

// Subscribe subscribes to a channel.
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channel)
}

// SetNX sets key only if absent, returning whether it was newly set — the
// primitive the whale-alert processor uses for its dedup window (repeat
// alerts for the same trader/coin/action/size bucket are suppressed
// within the window; see WhaleDedupKey).
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, key, data, expiration).Result()
}

// PositionKey is the cache key for a trader's previous position on a coin,
// the state position-detection diffs against.
func PositionKey(trader, coin string) string {
	return fmt.Sprintf("position:%s:%s", trader, coin)
}

// WhaleDedupKey is the cache key the whale-alert processor's SetNX dedup
// check uses, scoped to the same (action, size bucket) pair the in-process
// dedup map keys on (spec §4.4).
func WhaleDedupKey(trader, coin, action, bucket string) string {
	return fmt.Sprintf("whale_dedup:%s:%s:%s:%s", trader, coin, action, bucket)
}

// LeaderboardKey is the cache key reserved for the active trader set.
// Nothing in this module reads or writes it.
func LeaderboardKey() string {
	return "leaderboard:active_traders"
}
