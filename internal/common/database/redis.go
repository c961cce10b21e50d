// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"notification-outbox/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the Redis client
type RedisClient struct {
	Client *redis.Client
}

// NewRedis creates a new Redis client
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	return &RedisClient{Client: rdb}, nil
}

// Ping tests the Redis connection
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

// AcquireLease attempts a SetNX lease under key for ttl. It returns true if
// this process now holds the lease. Used by the delivery worker so two
// processes sharing a database never run overlapping ticks.
func (c *RedisClient) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	return c.Client.SetNX(ctx, key, holder, ttl).Result()
}

// ReleaseLease drops the lease only if this holder still owns it.
func (c *RedisClient) ReleaseLease(ctx context.Context, key, holder string) error {
	const script = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0`
	return c.Client.Eval(ctx, script, []string{key}, holder).Err()
}

// GetClient returns the underlying *redis.Client for compatibility
func (c *RedisClient) GetClient() *redis.Client {
	return c.Client
}
