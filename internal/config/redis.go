package config

import (
	"context"
	"fmt"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis opens and pings the Redis client used for catalog caching and
// the import lock. The caller decides whether a failure is fatal.
func ConnectRedis(ctx context.Context, cfg *Config) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if password := secrets.GetRedisPassword(); password != "" {
		redisOpts.Password = password
	}
	client := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
