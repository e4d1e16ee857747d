package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
)

// KVStore 进程内键值存储，用于本地开发与测试，进程退出后数据丢失
type KVStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewKVStore 创建内存键值存储
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string][]byte)}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = slices.Clone(value)
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *KVStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Keys 当前保存的全部键
func (s *KVStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
