package dispatcher

import (
	"context"
	"time"

	"gitee.com/flycash/live-interaction/internal/pkg/loopjob"
	"github.com/meoying/dlock-go"
)

const dispatchLockKey = "push_notification_dispatch"

// DrainLoop 分布式锁保护的投递循环，全局同一时刻只有一个实例在投
type DrainLoop struct {
	dclient    dlock.Client
	dispatcher Dispatcher
	batchSize  int
	idleSleep  time.Duration
}

func NewDrainLoop(dclient dlock.Client, dispatcher Dispatcher, batchSize int, idleSleep time.Duration) *DrainLoop {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if idleSleep <= 0 {
		idleSleep = defaultIdleSleep
	}
	return &DrainLoop{
		dclient:    dclient,
		dispatcher: dispatcher,
		batchSize:  batchSize,
		idleSleep:  idleSleep,
	}
}

func (l *DrainLoop) Start(ctx context.Context) {
	loop := loopjob.NewInfiniteLoop(l.dclient, l.drainOnce, dispatchLockKey)
	loop.Run(ctx)
}

func (l *DrainLoop) drainOnce(ctx context.Context) error {
	handled, err := l.dispatcher.DrainOnce(ctx)
	if err != nil {
		return err
	}
	if handled < l.batchSize {
		// 队列见底，歇一下避免空转打爆数据库
		select {
		case <-ctx.Done():
		case <-time.After(l.idleSleep):
		}
	}
	return nil
}
