package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rankeval/rankeval/internal/pkg/errors"
)

// RedisStorage keeps documents as Redis strings under a key prefix.
type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 = no expiry
}

// NewRedisStorage connects to url and checks the connection.
func NewRedisStorage(url, prefix string, ttl time.Duration) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("parsing redis URL: %v", err))
	}

	client := redis.NewClient(opts)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "connecting to redis", err)
	}

	return newRedisStorage(client, prefix, ttl), nil
}

func newRedisStorage(client *redis.Client, prefix string, ttl time.Duration) *RedisStorage {
	return &RedisStorage{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (rs *RedisStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return errors.ValidationError(err.Error())
	}
	if err := rs.client.Set(ctx, rs.prefix+key, data, rs.ttl).Err(); err != nil {
		return errors.StorageError("saving result", err)
	}
	return nil
}

func (rs *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := rs.client.Get(ctx, rs.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFoundError(fmt.Sprintf("result %s", key))
	}
	if err != nil {
		return nil, errors.StorageError("loading result", err)
	}
	return data, nil
}

// List scans the keyspace incrementally rather than with KEYS.
func (rs *RedisStorage) List(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0)
	iter := rs.client.Scan(ctx, 0, rs.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), rs.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.StorageError("listing results", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (rs *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := rs.client.Del(ctx, rs.prefix+key).Err(); err != nil {
		return errors.StorageError("deleting result", err)
	}
	return nil
}

// Close closes the Redis connection.
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
