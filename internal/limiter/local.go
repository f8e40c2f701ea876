package limiter

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalTokenBucket 进程内令牌桶，单实例部署或 Redis 不可用时使用。
// 每个 key 一个 rate.Limiter；桶补满后与新建无异，按窗口周期清理。
type LocalTokenBucket struct {
	cfg   Config
	limit rate.Limit
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	lastSweep time.Time
}

// NewLocalTokenBucket 创建进程内令牌桶
func NewLocalTokenBucket(cfg Config) (*LocalTokenBucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LocalTokenBucket{
		cfg:     cfg,
		limit:   rate.Limit(float64(cfg.Rate) / cfg.Window.Seconds()),
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}, nil
}

// AllowN 尝试消耗 n 个令牌
func (tb *LocalTokenBucket) AllowN(_ context.Context, key string, n int64) (*LimitResult, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	tb.sweep(now)

	lim, ok := tb.buckets[key]
	if !ok {
		lim = rate.NewLimiter(tb.limit, int(tb.cfg.Burst))
		tb.buckets[key] = lim
	}

	if lim.AllowN(now, int(n)) {
		return &LimitResult{Allowed: true, Remaining: int64(lim.TokensAt(now))}, nil
	}
	tokens := lim.TokensAt(now)
	// 与 Redis 脚本一致，按毫秒向上取整
	retry := math.Ceil((float64(n) - tokens) * float64(tb.cfg.Window.Milliseconds()) / float64(tb.cfg.Rate))
	return &LimitResult{
		Remaining:  int64(tokens),
		RetryAfter: time.Duration(retry) * time.Millisecond,
	}, nil
}

// sweep 每个窗口最多一次，删除已补满的桶
func (tb *LocalTokenBucket) sweep(now time.Time) {
	if now.Sub(tb.lastSweep) < tb.cfg.Window {
		return
	}
	tb.lastSweep = now
	full := float64(tb.cfg.Burst)
	for key, lim := range tb.buckets {
		if lim.TokensAt(now) >= full {
			delete(tb.buckets, key)
		}
	}
}

// Reset 删除桶
func (tb *LocalTokenBucket) Reset(_ context.Context, key string) error {
	tb.mu.Lock()
	delete(tb.buckets, key)
	tb.mu.Unlock()
	return nil
}

// Len 当前跟踪的 key 数
func (tb *LocalTokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}
