package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "event_processed:"

// DefaultTTL is how long a processed marker lives. It must outlast the
// transport's redelivery window.
const DefaultTTL = 24 * time.Hour

// Config holds Redis connection settings for the dedup cache.
type Config struct {
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	PoolSize int           `json:"pool_size"`
	TTL      time.Duration `json:"ttl"`
}

// RedisCache implements Cache on top of Redis. SetNX gives the atomic
// check-and-mark semantics Acquire requires.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to Redis and returns a dedup cache.
func NewRedisCache(config *Config) (*RedisCache, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{rdb: rdb, ttl: config.TTL}, nil
}

// Acquire atomically claims the marker for eventID.
func (c *RedisCache) Acquire(ctx context.Context, eventID int64) (bool, error) {
	won, err := c.rdb.SetNX(ctx, key(eventID), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dedup marker: %w", err)
	}
	return won, nil
}

// Release drops the marker for eventID.
func (c *RedisCache) Release(ctx context.Context, eventID int64) error {
	if err := c.rdb.Del(ctx, key(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to release dedup marker: %w", err)
	}
	return nil
}

// IsProcessed reports whether the marker for eventID exists.
func (c *RedisCache) IsProcessed(ctx context.Context, eventID int64) (bool, error) {
	count, err := c.rdb.Exists(ctx, key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup marker: %w", err)
	}
	return count > 0, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

// Health pings the Redis server.
func (c *RedisCache) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

func key(eventID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, eventID)
}
