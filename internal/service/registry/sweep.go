package registry

import (
	"context"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"github.com/gotomicro/ego/core/elog"
)

const defaultSweepInterval = 5 * time.Second

// EvictFunc 会话被清扫之后的回调，用于补发 LEAVE 事件
type EvictFunc func(ctx context.Context, session domain.Session)

// SweepTask 周期清扫心跳超时的会话
type SweepTask struct {
	registry SessionRegistry
	interval time.Duration
	onEvict  EvictFunc
	logger   *elog.Component
}

func NewSweepTask(registry SessionRegistry, interval time.Duration, onEvict EvictFunc) *SweepTask {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &SweepTask{
		registry: registry,
		interval: interval,
		onEvict:  onEvict,
		logger:   elog.DefaultLogger,
	}
}

func (t *SweepTask) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			evicted := t.registry.Sweep(ctx, now)
			if len(evicted) == 0 {
				continue
			}
			t.logger.Info("清扫超时会话", elog.Int("count", len(evicted)))
			if t.onEvict == nil {
				continue
			}
			for _, session := range evicted {
				t.onEvict(ctx, session)
			}
		}
	}
}
