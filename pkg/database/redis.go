package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/yunyaopan/pcd-workflowplus/pkg/config"
)

// NewRedisClient connects to the Redis instance that holds editing sessions.
// It returns a nil client when no host is configured; callers then keep
// sessions in memory.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
