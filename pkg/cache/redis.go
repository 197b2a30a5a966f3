package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/grigta/hotspot/pkg/logger"
)

type Options struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Namespace is prepended to every key, e.g. "hotspot:".
	Namespace string
}

// RedisCache stores JSON snapshots under a per-deployment namespace.
type RedisCache struct {
	client    *redis.Client
	namespace string
}

func NewRedisCache(opts Options) (*RedisCache, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.Field{Key: "addr", Value: addr},
		logger.Field{Key: "namespace", Value: opts.Namespace},
	)

	return &RedisCache{client: client, namespace: opts.Namespace}, nil
}

func (r *RedisCache) key(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	return r.namespace + key, nil
}

// GetJSON decodes the value at key into dest. A missing key is ErrCacheMiss.
func (r *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	k, err := r.key(key)
	if err != nil {
		return err
	}

	data, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("failed to get value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return nil
}

// Set stores value as JSON; strings and byte slices are stored as is.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	k, err := r.key(key)
	if err != nil {
		return err
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
	}

	if err := r.client.Set(ctx, k, data, expiration).Err(); err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	namespaced := make([]string, 0, len(keys))
	for _, key := range keys {
		k, err := r.key(key)
		if err != nil {
			return err
		}
		namespaced = append(namespaced, k)
	}

	if err := r.client.Del(ctx, namespaced...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
