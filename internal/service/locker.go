package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
)

// VariantLocker 按变体串行化账本写操作。
// 计数器本身已有条件更新保护，锁只用于减少并发冲突。
type VariantLocker interface {
	Lock(ctx context.Context, key domain.VariantKey) (unlock func(), err error)
}

// noopVariantLocker 禁用锁时使用
type noopVariantLocker struct{}

// NewNoopVariantLocker 创建不加锁的实现
func NewNoopVariantLocker() VariantLocker {
	return noopVariantLocker{}
}

func (noopVariantLocker) Lock(ctx context.Context, key domain.VariantKey) (func(), error) {
	return func() {}, nil
}

// localVariantLocker 进程内按键互斥，引用计数归零后回收
type localVariantLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedMutex
}

type keyedMutex struct {
	ch   chan struct{}
	refs int
}

// NewLocalVariantLocker 创建进程内变体锁，适用于单实例部署
func NewLocalVariantLocker() VariantLocker {
	return &localVariantLocker{locks: make(map[string]*keyedMutex)}
}

func (l *localVariantLocker) Lock(ctx context.Context, key domain.VariantKey) (func(), error) {
	k := key.String()

	l.mu.Lock()
	m, ok := l.locks[k]
	if !ok {
		m = &keyedMutex{ch: make(chan struct{}, 1)}
		l.locks[k] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(k, m, false)
		return nil, fmt.Errorf("%w: timed out waiting for variant %s", domain.ErrConflict, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(k, m, true) })
	}, nil
}

func (l *localVariantLocker) release(k string, m *keyedMutex, held bool) {
	if held {
		<-m.ch
	}
	l.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.locks, k)
	}
	l.mu.Unlock()
}

// redisVariantLocker 基于 Redis 的分布式锁，多实例部署时使用
type redisVariantLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewRedisVariantLocker 创建分布式变体锁。ttl 为锁的最长持有时间，wait 为最长等待时间。
func NewRedisVariantLocker(client redislock.RedisClient, ttl, wait time.Duration, logger *zap.Logger) VariantLocker {
	return &redisVariantLocker{
		client: redislock.New(client),
		ttl:    ttl,
		wait:   wait,
		logger: logger,
	}
}

func (l *redisVariantLocker) Lock(ctx context.Context, key domain.VariantKey) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	lock, err := l.client.Obtain(waitCtx, "ev:lock:variant:"+key.String(), l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(20 * time.Millisecond),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: variant %s is busy", domain.ErrConflict, key)
		}
		return nil, fmt.Errorf("failed to obtain variant lock: %w", err)
	}

	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("failed to release variant lock", zap.String("variant", key.String()), zap.Error(err))
		}
	}, nil
}
