// Package limiter 提供按用户的令牌桶限流
package limiter

import (
	"context"
	"errors"
	"time"
)

// LimitResult 限流结果
type LimitResult struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int64         `json:"remaining"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Limiter 限流器接口
type Limiter interface {
	// AllowN 尝试消耗 n 个令牌
	AllowN(ctx context.Context, key string, n int64) (*LimitResult, error)

	// Reset 清空某个 key 的限流状态
	Reset(ctx context.Context, key string) error
}

// Config 令牌桶配置：每个 Window 补充 Rate 个令牌，桶容量为 Burst
type Config struct {
	Rate      int64
	Window    time.Duration
	Burst     int64
	KeyPrefix string
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.Rate <= 0 || c.Burst <= 0 {
		return errors.New("limiter: rate and burst must be positive")
	}
	if c.Window < time.Millisecond {
		return errors.New("limiter: window too small")
	}
	return nil
}

// Allow 消耗一个令牌
func Allow(ctx context.Context, l Limiter, key string) (*LimitResult, error) {
	return l.AllowN(ctx, key, 1)
}
