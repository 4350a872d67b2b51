package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"portside/config"
)

// ConnectRedis opens the optional Redis client used for lifecycle
// event publishing. Returns nil when no REDIS_URL is configured;
// callers treat a nil client as "events disabled".
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisURL,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisURL, err)
	}

	fmt.Println("Redis connected")
	return rdb, nil
}
