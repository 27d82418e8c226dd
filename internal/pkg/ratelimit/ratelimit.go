package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter 限流器
type Limiter interface {
	// Limit 判断 key 是否应该被限流
	Limit(ctx context.Context, key string) (bool, error)
}

// 滑动窗口：窗口内的请求记在 zset 里，按时间戳淘汰过期成员再计数
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local cnt = redis.call('ZCARD', key)
if cnt >= rate then
    return 1
end
redis.call('ZADD', key, now, now .. '-' .. math.random(1000000))
redis.call('PEXPIRE', key, window)
return 0
`)

var _ Limiter = (*RedisSlidingWindowLimiter)(nil)

// RedisSlidingWindowLimiter 基于Redis的滑动窗口限流器，
// 多个服务实例共享同一个窗口
type RedisSlidingWindowLimiter struct {
	cmd       redis.Cmdable
	interval  time.Duration
	rate      int
	keyPrefix string
}

// NewRedisSlidingWindowLimiter interval 窗口大小，rate 窗口内允许的请求数
func NewRedisSlidingWindowLimiter(cmd redis.Cmdable, interval time.Duration, rate int) *RedisSlidingWindowLimiter {
	return &RedisSlidingWindowLimiter{
		cmd:       cmd,
		interval:  interval,
		rate:      rate,
		keyPrefix: "live_interaction:ratelimit:",
	}
}

func (r *RedisSlidingWindowLimiter) Limit(ctx context.Context, key string) (bool, error) {
	limited, err := slidingWindowScript.Run(ctx, r.cmd,
		[]string{r.keyPrefix + key},
		r.interval.Milliseconds(),
		r.rate,
		time.Now().UnixMilli(),
	).Bool()
	if err != nil {
		return false, fmt.Errorf("执行限流脚本失败: %w", err)
	}
	return limited, nil
}
