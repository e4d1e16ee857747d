package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
)

// KVStore 基于 Redis 的持久化键值存储
type KVStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewKVStore 创建 Redis 键值存储。namespace 作为所有键的前缀，ttl 为 0 表示永不过期
func NewKVStore(client redis.UniversalClient, namespace string, ttl time.Duration) *KVStore {
	return &KVStore{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.namespace+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return data, nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.namespace+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.namespace+key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
