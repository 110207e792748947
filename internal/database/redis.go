package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue snapshots are small and written one at a time; a short write
// timeout surfaces a stalled server as a persist error instead of a hang.
const (
	RedisPoolSize     = 4
	RedisDialTimeout  = 5 * time.Second
	RedisWriteTimeout = 3 * time.Second
)

// NewRedisClient connects to redisURL and verifies the server answers.
// Settings given in the URL win over the defaults above.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if opts.PoolSize == 0 {
		opts.PoolSize = RedisPoolSize
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = RedisDialTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = RedisWriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return client, nil
}
