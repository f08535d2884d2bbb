package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
)

// NewClient opens a Redis client and verifies it with PING.
func NewClient(ctx context.Context, cfgProvider config.Provider) (*redis.Client, error) {
	cfg := cfgProvider.Get().Redis
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}
