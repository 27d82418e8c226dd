package broadcast

import (
	"context"
	"time"

	"gitee.com/flycash/live-interaction/internal/service/registry"
)

const defaultViewerCountInterval = 5 * time.Second

// ViewerCountUpdater 观众数变化的额外落点（聚合器），可为空
type ViewerCountUpdater func(ctx context.Context, channelID string, count int)

// ViewerCountTask 周期向每个活跃频道播报去重观众数
type ViewerCountTask struct {
	registry registry.SessionRegistry
	router   Router
	interval time.Duration
	update   ViewerCountUpdater
}

func NewViewerCountTask(reg registry.SessionRegistry, router Router, interval time.Duration, update ViewerCountUpdater) *ViewerCountTask {
	if interval <= 0 {
		interval = defaultViewerCountInterval
	}
	return &ViewerCountTask{
		registry: reg,
		router:   router,
		interval: interval,
		update:   update,
	}
}

func (t *ViewerCountTask) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.broadcastOnce(ctx)
		}
	}
}

func (t *ViewerCountTask) broadcastOnce(ctx context.Context) {
	for _, channelID := range t.registry.ActiveChannels(ctx) {
		count := t.registry.ViewerCount(ctx, channelID)
		t.router.PublishViewerCount(ctx, channelID, count)
		if t.update != nil {
			t.update(ctx, channelID, count)
		}
	}
}
