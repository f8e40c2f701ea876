package cache

import (
	"context"
	"fmt"
	"time"
)

// 幂等键: ev:idempotency:{scope}:{key}
const idempotencyKeyTemplate = "ev:idempotency:%s:%s"

// IdempotencyStore 记录已处理的幂等键，底层复用 Cache 的 SetNX
type IdempotencyStore struct {
	cache Cache
	ttl   time.Duration
}

// NewIdempotencyStore 创建幂等键存储
func NewIdempotencyStore(c Cache, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{cache: c, ttl: ttl}
}

func (s *IdempotencyStore) cacheKey(scope, key string) string {
	return fmt.Sprintf(idempotencyKeyTemplate, scope, key)
}

// Acquire 首次出现返回 true；同一 scope 下重复的 key 返回 false
func (s *IdempotencyStore) Acquire(ctx context.Context, scope, key string) (bool, error) {
	ok, err := s.cache.SetNX(ctx, s.cacheKey(scope, key), time.Now().UTC().Unix(), s.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to set idempotency key: %w", err)
	}
	return ok, nil
}

// Release 删除幂等键，用于请求处理失败后允许客户端重试
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if err := s.cache.Del(ctx, s.cacheKey(scope, key)); err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}
