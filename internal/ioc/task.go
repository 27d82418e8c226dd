package ioc

import (
	"context"

	"gitee.com/flycash/live-interaction/internal/service/aggregator"
	"gitee.com/flycash/live-interaction/internal/service/broadcast"
	"gitee.com/flycash/live-interaction/internal/service/dispatcher"
	"gitee.com/flycash/live-interaction/internal/service/registry"
)

// Task 常驻后台任务
type Task interface {
	Start(ctx context.Context)
}

func InitTasks(t1 *registry.SweepTask,
	t2 *aggregator.FlushTask,
	t3 *broadcast.ViewerCountTask,
	t4 *dispatcher.DrainLoop,
	t5 *dispatcher.RequeueStaleTask,
) []Task {
	return []Task{
		t1,
		t2,
		t3,
		t4,
		t5,
	}
}
