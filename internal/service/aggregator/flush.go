package aggregator

import (
	"context"
	"time"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultEvictInterval = 10 * time.Second
)

// FlushTask 周期刷盘 + 空置淘汰。
// 聚合器脏变更到阈值时会通过 FlushSignal 提前唤醒
type FlushTask struct {
	aggregator    ChannelAggregator
	flushInterval time.Duration
	evictInterval time.Duration
}

func NewFlushTask(aggregator ChannelAggregator, flushInterval, evictInterval time.Duration) *FlushTask {
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	if evictInterval <= 0 {
		evictInterval = defaultEvictInterval
	}
	return &FlushTask{
		aggregator:    aggregator,
		flushInterval: flushInterval,
		evictInterval: evictInterval,
	}
}

func (t *FlushTask) Start(ctx context.Context) {
	flushTicker := time.NewTicker(t.flushInterval)
	defer flushTicker.Stop()
	evictTicker := time.NewTicker(t.evictInterval)
	defer evictTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			// 退出前尽量把脏数据落下去
			t.aggregator.FlushDirty(context.WithoutCancel(ctx))
			return
		case <-flushTicker.C:
			t.aggregator.FlushDirty(ctx)
		case <-t.aggregator.FlushSignal():
			t.aggregator.FlushDirty(ctx)
		case now := <-evictTicker.C:
			t.aggregator.EvictIdle(ctx, now)
		}
	}
}
