package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/starford/vault/internal/models"
)

// DefaultRedisKey holds the collection when no key is configured.
const DefaultRedisKey = "vault:highlights"

// RedisOptions configure the Redis driver.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Redis implements Provider as a single Redis string key holding the same
// JSON document the file driver writes.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("storage: redis ping %s: %w", opts.Addr, err)
	}
	key := opts.Key
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}, nil
}

// Get reads the collection. A missing key is an empty collection.
func (r *Redis) Get(ctx context.Context) ([]models.Highlight, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []models.Highlight{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: redis get: %w", err)
	}
	return decode(data)
}

// Set replaces the collection. The key never expires.
func (r *Redis) Set(ctx context.Context, hs []models.Highlight) error {
	data, err := encode(hs)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("storage: redis set: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
