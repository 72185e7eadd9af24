package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store shared by every replica connected to one Redis.
type RedisStore struct {
	client *redis.Client
	config StoreConfig
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `mapstructure:"addr"`
	// Password is the Redis password (optional)
	Password string `mapstructure:"password"`
	// DB is the Redis database number
	DB int `mapstructure:"db"`
	// StoreConfig holds common store configuration
	StoreConfig StoreConfig `mapstructure:",squash"`
}

// DefaultRedisConfig returns a default Redis configuration
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		StoreConfig: DefaultStoreConfig(),
	}
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	return NewRedisStoreWithClient(client, config.StoreConfig), nil
}

// NewRedisStoreWithClient creates a store over an existing client
func NewRedisStoreWithClient(client *redis.Client, config StoreConfig) *RedisStore {
	return &RedisStore{
		client: client,
		config: config,
	}
}

// SeenBefore records key with SET NX and reports whether it already existed
func (r *RedisStore) SeenBefore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fullKey := r.config.Prefix + key

	created, err := r.client.SetNX(ctx, fullKey, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record fingerprint: %w", err)
	}
	return !created, nil
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
