package redis

import (
	"context"
	"fmt"

	"github.com/mossy-p/tutor-call/config"
	"github.com/redis/go-redis/v9"
)

// Client is the explicitly owned Redis connection shared by the room store and
// the signaling transport.
type Client struct {
	*redis.Client
}

// Connect initializes the Redis client and verifies it is reachable
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{Client: rdb}, nil
}

// NewClient wraps an existing go-redis client.
func NewClient(rdb *redis.Client) *Client {
	return &Client{Client: rdb}
}
