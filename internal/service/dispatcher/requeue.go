package dispatcher

import (
	"context"
	"time"

	"gitee.com/flycash/live-interaction/internal/pkg/loopjob"
	"gitee.com/flycash/live-interaction/internal/repository"
	"github.com/gotomicro/ego/core/elog"
	"github.com/meoying/dlock-go"
)

const (
	requeueLockKey = "push_notification_requeue_stale"

	defaultStaleAfter      = time.Minute
	defaultRequeueInterval = 30 * time.Second
	defaultRequeueBatch    = 128
)

// RequeueStaleTask 崩溃恢复：投递者认领之后宕机，记录会停留在 SENDING。
// 超时的 SENDING 算失败一次重新排队，重试余量耗尽的进死信
type RequeueStaleTask struct {
	dclient     dlock.Client
	repo        repository.PushNotificationRepository
	staleAfter  time.Duration
	interval    time.Duration
	maxAttempts int32
	batchSize   int
	logger      *elog.Component
}

func NewRequeueStaleTask(dclient dlock.Client, repo repository.PushNotificationRepository, staleAfter, interval time.Duration, maxAttempts int32) *RequeueStaleTask {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if interval <= 0 {
		interval = defaultRequeueInterval
	}
	return &RequeueStaleTask{
		dclient:     dclient,
		repo:        repo,
		staleAfter:  staleAfter,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   defaultRequeueBatch,
		logger:      elog.DefaultLogger,
	}
}

func (t *RequeueStaleTask) Start(ctx context.Context) {
	loop := loopjob.NewInfiniteLoop(t.dclient, t.requeueOnce, requeueLockKey)
	loop.Run(ctx)
}

func (t *RequeueStaleTask) requeueOnce(ctx context.Context) error {
	before := time.Now().Add(-t.staleAfter)
	requeued, err := t.repo.RequeueStaleSending(ctx, before, t.maxAttempts, t.batchSize)
	if err != nil {
		return err
	}
	if requeued > 0 {
		t.logger.Warn("回收超时的SENDING通知", elog.Int64("count", requeued))
	}
	if requeued < int64(t.batchSize) {
		select {
		case <-ctx.Done():
		case <-time.After(t.interval):
		}
	}
	return nil
}
