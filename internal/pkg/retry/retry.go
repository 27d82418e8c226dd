package retry

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Req 一次重试决策的输入
type Req struct {
	// Attempts 已经失败的次数
	Attempts int32
}

// Strategy 重试策略。返回下一次重试的毫秒时间戳，
// 第二个返回值为 false 表示不应该再重试了。
type Strategy interface {
	NextTime(req Req) (int64, bool)
}

// StrategyFunc 方便测试里直接用函数充当策略
type StrategyFunc func(req Req) (int64, bool)

func (f StrategyFunc) NextTime(req Req) (int64, bool) {
	return f(req)
}

// jitterRatio 在计算出的间隔上叠加 ±20% 的抖动，避免重试风暴
const jitterRatio = 0.2

// ExponentialBackoffStrategy 指数退避：initial << attempts，封顶 max
type ExponentialBackoffStrategy struct {
	initial    time.Duration
	max        time.Duration
	maxRetries int32
}

func NewExponentialBackoffStrategy(initial, maxInterval time.Duration, maxRetries int32) *ExponentialBackoffStrategy {
	return &ExponentialBackoffStrategy{
		initial:    initial,
		max:        maxInterval,
		maxRetries: maxRetries,
	}
}

func (s *ExponentialBackoffStrategy) NextTime(req Req) (int64, bool) {
	if req.Attempts >= s.maxRetries {
		return 0, false
	}
	interval := s.initial
	// 第一次重试用初始间隔，之后逐位左移，一旦超过上限就不再移了，防止溢出
	for i := int32(1); i < req.Attempts; i++ {
		interval <<= 1
		if interval >= s.max {
			interval = s.max
			break
		}
	}
	if interval > s.max {
		interval = s.max
	}
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterRatio * float64(interval))
	return time.Now().Add(interval + jitter).UnixMilli(), true
}

// FixedIntervalStrategy 固定间隔重试
type FixedIntervalStrategy struct {
	interval   time.Duration
	maxRetries int32
}

func NewFixedIntervalStrategy(interval time.Duration, maxRetries int32) *FixedIntervalStrategy {
	return &FixedIntervalStrategy{interval: interval, maxRetries: maxRetries}
}

func (s *FixedIntervalStrategy) NextTime(req Req) (int64, bool) {
	if req.Attempts >= s.maxRetries {
		return 0, false
	}
	return time.Now().Add(s.interval).UnixMilli(), true
}

// Config 从配置构建重试策略
type Config struct {
	Type               string                    `json:"type" yaml:"type"`
	FixedInterval      *FixedIntervalConfig      `json:"fixedInterval" yaml:"fixedInterval"`
	ExponentialBackoff *ExponentialBackoffConfig `json:"exponentialBackoff" yaml:"exponentialBackoff"`
}

type ExponentialBackoffConfig struct {
	// 初始重试间隔 单位ms
	InitialInterval int `json:"initialInterval" yaml:"initialInterval"`
	// 最大重试间隔 单位ms
	MaxInterval int `json:"maxInterval" yaml:"maxInterval"`
	// 最大重试次数
	MaxRetries int32 `json:"maxRetries" yaml:"maxRetries"`
}

type FixedIntervalConfig struct {
	MaxRetries int32 `json:"maxRetries" yaml:"maxRetries"`
	Interval   int   `json:"interval" yaml:"interval"`
}

// NewRetry 根据 config 中的字段来构建策略
func NewRetry(cfg Config) (Strategy, error) {
	switch cfg.Type {
	case "fixed":
		return NewFixedIntervalStrategy(msToDuration(cfg.FixedInterval.Interval), cfg.FixedInterval.MaxRetries), nil
	case "exponential":
		return NewExponentialBackoffStrategy(
			msToDuration(cfg.ExponentialBackoff.InitialInterval),
			msToDuration(cfg.ExponentialBackoff.MaxInterval),
			cfg.ExponentialBackoff.MaxRetries), nil
	default:
		return nil, fmt.Errorf("unknown retry type: %s", cfg.Type)
	}
}

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
