// Package redis implements habit.AggregateCache on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/habit-engine/habit"
)

// DefaultPrefix namespaces aggregate keys.
const DefaultPrefix = "habit:aggregate:"

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration // zero keeps keys until overwritten
}

// Cache stores one JSON-encoded aggregate per user.
type Cache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewWithClient(rdb, opts.Prefix, opts.TTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(rdb *redis.Client, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *Cache) Close() error { return c.rdb.Close() }

func (c *Cache) key(user habit.UserID) string { return c.prefix + string(user) }

// cachedAggregate is the wire form; dates travel as YYYY-MM-DD.
type cachedAggregate struct {
	TotalPoints        int        `json:"total_points"`
	Level              int        `json:"level"`
	Streak             int        `json:"streak"`
	LastActionDate     habit.Date `json:"last_action_date"`
	DayPoints          int        `json:"day_points"`
	PreviousActionDate habit.Date `json:"previous_action_date"`
	PreviousStreak     int        `json:"previous_streak"`
}

func (c *Cache) Get(ctx context.Context, user habit.UserID) (habit.UserAggregate, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(user)).Bytes()
	if errors.Is(err, redis.Nil) {
		return habit.UserAggregate{}, false, nil
	}
	if err != nil {
		return habit.UserAggregate{}, false, fmt.Errorf("redis get %s: %w", user, err)
	}

	var v cachedAggregate
	if err := json.Unmarshal(raw, &v); err != nil {
		return habit.UserAggregate{}, false, fmt.Errorf("decode cached aggregate %s: %w", user, err)
	}
	return habit.UserAggregate{
		TotalPoints:        v.TotalPoints,
		Level:              v.Level,
		Streak:             v.Streak,
		LastActionDate:     v.LastActionDate,
		DayPoints:          v.DayPoints,
		PreviousActionDate: v.PreviousActionDate,
		PreviousStreak:     v.PreviousStreak,
	}, true, nil
}

func (c *Cache) Put(ctx context.Context, user habit.UserID, agg habit.UserAggregate) error {
	raw, err := json.Marshal(cachedAggregate{
		TotalPoints:        agg.TotalPoints,
		Level:              agg.Level,
		Streak:             agg.Streak,
		LastActionDate:     agg.LastActionDate,
		DayPoints:          agg.DayPoints,
		PreviousActionDate: agg.PreviousActionDate,
		PreviousStreak:     agg.PreviousStreak,
	})
	if err != nil {
		return fmt.Errorf("encode aggregate %s: %w", user, err)
	}
	if err := c.rdb.Set(ctx, c.key(user), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", user, err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, user habit.UserID) error {
	if err := c.rdb.Del(ctx, c.key(user)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", user, err)
	}
	return nil
}

// purgeBatch is the SCAN page size and the UNLINK batch size.
const purgeBatch = 500

// Purge unlinks every key under the cache prefix.
func (c *Cache) Purge(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, c.prefix+"*", purgeBatch).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s*: %w", c.prefix, err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis unlink: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
