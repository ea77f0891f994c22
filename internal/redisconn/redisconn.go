// Package redisconn constructs coordination-store clients from application
// configuration.
package redisconn

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"parley/internal/config"
)

// New builds a Redis client for the configured coordination store.
func New(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// Ping verifies the coordination store is reachable.
func Ping(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}
