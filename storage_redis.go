package tangguh

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStorage backs the Storage boundary with Redis, for deployments
// where the resilience layer runs server-side and queue state must
// survive process replacement. Keys are namespaced with a prefix.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStorage wraps an existing Redis client. An empty prefix
// defaults to "tangguh:".
func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "tangguh:"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

func (s *RedisStorage) key(key string) string {
	return s.prefix + key
}

// Get implements Storage.
func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStorageKeyNotFound
		}
		return nil, err
	}
	return data, nil
}

// Set implements Storage. Values are kept without expiry; the queue and
// snapshot manage their own lifecycle.
func (s *RedisStorage) Set(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.key(key), value, 0).Err()
}

// Delete implements Storage.
func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
