package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript 令牌数以浮点保存，时间精度为毫秒
//
// KEYS[1] 桶 key
// ARGV[1] 容量  ARGV[2] 每窗口补充数  ARGV[3] 窗口毫秒
// ARGV[4] 请求令牌数  ARGV[5] 当前毫秒时间戳
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(bucket[1]) or capacity
local ts = tonumber(bucket[2]) or now

local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * rate / window)

local allowed = 0
local retry = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
else
  retry = math.ceil((requested - tokens) * window / rate)
end

redis.call('HSET', KEYS[1], 'tokens', tokens, 'ts', now)
redis.call('PEXPIRE', KEYS[1], window * 2)
return {allowed, math.floor(tokens), retry}
`)

// RedisTokenBucket 基于 Redis Lua 脚本的令牌桶，多实例共享配额
type RedisTokenBucket struct {
	client redis.Cmdable
	cfg    Config
	now    func() time.Time
}

// NewRedisTokenBucket 创建 Redis 令牌桶
func NewRedisTokenBucket(client redis.Cmdable, cfg Config) (*RedisTokenBucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ev_dealer:ratelimit"
	}
	return &RedisTokenBucket{client: client, cfg: cfg, now: time.Now}, nil
}

func (tb *RedisTokenBucket) key(key string) string {
	return tb.cfg.KeyPrefix + ":" + key
}

// AllowN 尝试消耗 n 个令牌
func (tb *RedisTokenBucket) AllowN(ctx context.Context, key string, n int64) (*LimitResult, error) {
	vals, err := tokenBucketScript.Run(ctx, tb.client, []string{tb.key(key)},
		tb.cfg.Burst,
		tb.cfg.Rate,
		tb.cfg.Window.Milliseconds(),
		n,
		tb.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("token bucket script: %w", err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("token bucket script: unexpected result %v", vals)
	}
	return &LimitResult{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Reset 删除桶
func (tb *RedisTokenBucket) Reset(ctx context.Context, key string) error {
	if err := tb.client.Del(ctx, tb.key(key)).Err(); err != nil {
		return fmt.Errorf("reset token bucket: %w", err)
	}
	return nil
}
