package dispatcher

import (
	"context"
	"errors"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/pkg/metrics"
	"gitee.com/flycash/live-interaction/internal/pkg/retry"
	"gitee.com/flycash/live-interaction/internal/repository"
	"gitee.com/flycash/live-interaction/internal/service/push"
	"gitee.com/flycash/live-interaction/internal/service/push/client"
	"github.com/gotomicro/ego/core/elog"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 32
	defaultConcurrency = 8
	// defaultIdleSleep 一批没捞满说明队列见底了，歇一会儿再捞
	defaultIdleSleep = time.Second
)

// Dispatcher 通知投递者：认领到期通知并推送，按失败性质决定重试或进死信
type Dispatcher interface {
	// DrainOnce 认领并处理一批到期通知，返回本批处理的条数
	DrainOnce(ctx context.Context) (int, error)
}

type dispatcher struct {
	repo     repository.PushNotificationRepository
	pusher   push.Pusher
	strategy retry.Strategy

	batchSize   int
	concurrency int
	logger      *elog.Component
	now         func() time.Time
}

type Option func(*dispatcher)

func WithBatchSize(size int) Option {
	return func(d *dispatcher) {
		if size > 0 {
			d.batchSize = size
		}
	}
}

func WithConcurrency(n int) Option {
	return func(d *dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func NewDispatcher(repo repository.PushNotificationRepository, pusher push.Pusher, strategy retry.Strategy, opts ...Option) Dispatcher {
	d := &dispatcher{
		repo:        repo,
		pusher:      pusher,
		strategy:    strategy,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		logger:      elog.DefaultLogger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *dispatcher) DrainOnce(ctx context.Context) (int, error) {
	claimed, err := d.repo.ClaimDue(ctx, d.now(), d.batchSize)
	if err != nil {
		return 0, err
	}

	var eg errgroup.Group
	eg.SetLimit(d.concurrency)
	for i := range claimed {
		notification := claimed[i]
		eg.Go(func() error {
			d.dispatchOne(ctx, notification)
			return nil
		})
	}
	_ = eg.Wait()

	d.sampleBacklog(ctx)
	return len(claimed), nil
}

// dispatchOne 处理单条通知。认领之后这条记录归当前投递者，
// 任何结局都要把状态写回去，否则只能等超时恢复任务兜底
func (d *dispatcher) dispatchOne(ctx context.Context, n domain.PushNotification) {
	err := d.pusher.Push(ctx, n)
	attempts := n.Attempts + 1

	switch {
	case err == nil:
		d.mark(ctx, n, metrics.DispatchResultDelivered, func(ctx context.Context) error {
			return d.repo.MarkDelivered(ctx, n.ID, attempts)
		})
	case errors.Is(err, client.ErrPermanentFailure):
		// 永久失败重试也没用，直接进死信
		d.logger.Warn("通知永久失败，进入死信",
			elog.Any("id", n.ID), elog.FieldErr(err))
		d.markDead(ctx, n, attempts)
	default:
		nextAt, ok := d.strategy.NextTime(retry.Req{Attempts: attempts})
		if !ok {
			d.logger.Warn("通知重试次数耗尽，进入死信",
				elog.Any("id", n.ID), elog.Any("attempts", attempts), elog.FieldErr(err))
			d.markDead(ctx, n, attempts)
			return
		}
		d.mark(ctx, n, metrics.DispatchResultRetry, func(ctx context.Context) error {
			return d.repo.MarkRetryLater(ctx, n.ID, attempts, time.UnixMilli(nextAt))
		})
	}
}

func (d *dispatcher) markDead(ctx context.Context, n domain.PushNotification, attempts int32) {
	metrics.DeadNotificationTotal.Inc()
	d.mark(ctx, n, metrics.DispatchResultDead, func(ctx context.Context) error {
		return d.repo.MarkDead(ctx, n.ID, attempts)
	})
}

func (d *dispatcher) mark(ctx context.Context, n domain.PushNotification, result string, fn func(ctx context.Context) error) {
	metrics.DispatchTotal.WithLabelValues(result).Inc()
	if err := fn(ctx); err != nil {
		// 状态没写回去，这条会被超时恢复任务重新入队
		d.logger.Error("通知状态写回失败",
			elog.Any("id", n.ID), elog.String("result", result), elog.FieldErr(err))
	}
}

func (d *dispatcher) sampleBacklog(ctx context.Context) {
	backlog, err := d.repo.Backlog(ctx)
	if err != nil {
		d.logger.Warn("采样通知积压失败", elog.FieldErr(err))
		return
	}
	metrics.NotificationQueueDepth.Set(float64(backlog))
}
