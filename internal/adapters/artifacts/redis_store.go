// Package artifacts implements ports.ArtifactStore over Redis, the local
// filesystem and memory.
package artifacts

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/stoik/email-risk/internal/ports"
)

// versionSuffix is appended to a key to find its version metadata
const versionSuffix = ":version"

// RedisStore reads artifacts from Redis. The payload lives at prefix+key and
// its optional version at prefix+key+":version".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to the Redis server at url (redis://...)
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get fetches the payload and version in one round trip
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	full := s.prefix + key
	vals, err := s.client.MGet(ctx, full, full+versionSuffix).Result()
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s from redis: %w", full, err)
	}

	payload, ok := vals[0].(string)
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ports.ErrArtifactNotFound, full)
	}
	version, _ := vals[1].(string)
	return []byte(payload), version, nil
}

// Put publishes an artifact and its version atomically
func (s *RedisStore) Put(ctx context.Context, key string, data []byte, version string) error {
	full := s.prefix + key
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, full, data, 0)
		if version != "" {
			pipe.Set(ctx, full+versionSuffix, version, 0)
		} else {
			pipe.Del(ctx, full+versionSuffix)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to redis: %w", full, err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
