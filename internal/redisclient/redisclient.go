// Package redisclient builds the shared *redis.Client the job queue's
// RedisStore persists jobs through.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hoppy/ingest/internal/config"
)

// New parses cfg.RedisURL and returns a connected client. Callers
// should Ping before relying on it; a bad REDIS_URL fails fast here
// rather than surfacing as a mysterious Dequeue error later.
func New(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Ping verifies connectivity with a short timeout, for the startup
// health check.
func Ping(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}
