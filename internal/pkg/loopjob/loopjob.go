package loopjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotomicro/ego/core/elog"
	"github.com/meoying/dlock-go"
)

// 在没有分布式任务调度平台的情况下，用分布式锁保证同一个任务全局只有一个实例在跑

const (
	defaultTimeout  = time.Second * 3
	defaultInterval = time.Minute
)

type InfiniteLoop struct {
	dclient  dlock.Client
	key      string
	interval time.Duration
	logger   *elog.Component
	biz      func(ctx context.Context) error
}

func NewInfiniteLoop(
	dclient dlock.Client,
	// 要循环执行的业务。ctx 被取消的时候整个循环退出
	biz func(ctx context.Context) error,
	key string,
) *InfiniteLoop {
	return &InfiniteLoop{
		dclient:  dclient,
		key:      key,
		interval: defaultInterval,
		logger:   elog.DefaultLogger.With(elog.String("key", key)),
		biz:      biz,
	}
}

// Run 抢锁执行业务循环，ctx 被取消时退出
func (l *InfiniteLoop) Run(ctx context.Context) {
	for {
		lock, err := l.dclient.NewLock(ctx, l.key, l.interval)
		if err != nil {
			l.logger.Error("初始化分布式锁失败，稍后重试", elog.Any("err", err))
			time.Sleep(l.interval)
			continue
		}

		lockCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		err = lock.Lock(lockCtx)
		cancel()
		if err != nil {
			// 没抢到锁，别的实例在干活，等一会儿再试
			time.Sleep(l.interval)
			continue
		}

		err = l.bizLoop(ctx, lock)
		if err != nil {
			l.logger.Error("任务循环中断", elog.FieldErr(err))
		}

		// 此时 ctx 可能已经被取消了，解锁要用新的超时上下文
		unCtx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
		//nolint:contextcheck // 原始 ctx 可能已被取消，但仍需尝试解锁
		unErr := lock.Unlock(unCtx)
		cancel()
		if unErr != nil {
			l.logger.Error("释放分布式锁失败", elog.Any("err", unErr))
		}

		err = ctx.Err()
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			l.logger.Info("任务被取消，退出任务循环")
			return
		default:
			time.Sleep(l.interval)
		}
	}
}

func (l *InfiniteLoop) bizLoop(ctx context.Context, lock dlock.Lock) error {
	for {
		err := l.biz(ctx)
		if err != nil {
			l.logger.Error("业务执行失败", elog.FieldErr(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		refCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		err = lock.Refresh(refCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("分布式锁续约失败 %w", err)
		}
	}
}
