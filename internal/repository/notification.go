package repository

import (
	"context"
	"errors"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/errs"
	"gitee.com/flycash/live-interaction/internal/repository/dao"
	"github.com/gotomicro/ego/core/elog"
)

// PushNotificationRepository 通知队列的持久化端口
type PushNotificationRepository interface {
	// Enqueue 幂等入队：同一 (接收者, 来源事件) 只会存在一条记录，
	// 重复入队合并到已有记录上并原样返回，不报错
	Enqueue(ctx context.Context, notification domain.PushNotification) (domain.PushNotification, error)

	// ClaimDue 认领一批到期通知并置为 SENDING。
	// 采用先查再逐行CAS的抢占模式，被别的投递者抢走的行静默跳过
	ClaimDue(ctx context.Context, now time.Time, maxN int) ([]domain.PushNotification, error)

	// MarkDelivered 投递成功
	MarkDelivered(ctx context.Context, id uint64, attempts int32) error
	// MarkRetryLater 瞬时失败，带退避时间回到队列
	MarkRetryLater(ctx context.Context, id uint64, attempts int32, nextRetryAt time.Time) error
	// MarkDead 终态，不再投递
	MarkDead(ctx context.Context, id uint64, attempts int32) error

	// RequeueStaleSending 崩溃恢复：超时停留在 SENDING 的记录算失败一次重新入队
	RequeueStaleSending(ctx context.Context, before time.Time, maxAttempts int32, batchSize int) (int64, error)

	// Backlog 当前 PENDING 积压量
	Backlog(ctx context.Context) (int64, error)
}

type pushNotificationRepository struct {
	dao    dao.PushNotificationDAO
	logger *elog.Component
}

func NewPushNotificationRepository(d dao.PushNotificationDAO) PushNotificationRepository {
	return &pushNotificationRepository{
		dao:    d,
		logger: elog.DefaultLogger,
	}
}

func (r *pushNotificationRepository) Enqueue(ctx context.Context, notification domain.PushNotification) (domain.PushNotification, error) {
	entity, err := r.toEntity(notification)
	if err != nil {
		return domain.PushNotification{}, err
	}
	created, err := r.dao.Create(ctx, entity)
	if err == nil {
		return r.toDomain(created)
	}
	if !errors.Is(err, errs.ErrNotificationDuplicate) {
		return domain.PushNotification{}, err
	}
	// 幂等键冲突：合并进已有记录，不重置它的重试进度
	existing, err := r.dao.GetByRecipientAndKey(ctx, notification.RecipientID, notification.EventKey)
	if err != nil {
		return domain.PushNotification{}, err
	}
	return r.toDomain(existing)
}

func (r *pushNotificationRepository) ClaimDue(ctx context.Context, now time.Time, maxN int) ([]domain.PushNotification, error) {
	due, err := r.dao.FindDue(ctx, now, maxN)
	if err != nil {
		return nil, err
	}
	claimed := make([]domain.PushNotification, 0, len(due))
	for i := range due {
		err := r.dao.CASClaimSending(ctx, due[i].ID, due[i].Version)
		if err != nil {
			if errors.Is(err, errs.ErrNotificationVersionMismatch) {
				// 并发竞争失败，这行归别人了
				continue
			}
			return claimed, err
		}
		due[i].Version++
		due[i].Status = domain.SendStatusSending.String()
		n, err := r.toDomain(due[i])
		if err != nil {
			r.logger.Warn("通知记录损坏，跳过", elog.Any("id", due[i].ID), elog.FieldErr(err))
			continue
		}
		claimed = append(claimed, n)
	}
	return claimed, nil
}

func (r *pushNotificationRepository) MarkDelivered(ctx context.Context, id uint64, attempts int32) error {
	return r.dao.MarkDelivered(ctx, id, attempts)
}

func (r *pushNotificationRepository) MarkRetryLater(ctx context.Context, id uint64, attempts int32, nextRetryAt time.Time) error {
	return r.dao.MarkRetryLater(ctx, id, attempts, nextRetryAt)
}

func (r *pushNotificationRepository) MarkDead(ctx context.Context, id uint64, attempts int32) error {
	return r.dao.MarkDead(ctx, id, attempts)
}

func (r *pushNotificationRepository) RequeueStaleSending(ctx context.Context, before time.Time, maxAttempts int32, batchSize int) (int64, error) {
	return r.dao.RequeueStaleSending(ctx, before, maxAttempts, batchSize)
}

func (r *pushNotificationRepository) Backlog(ctx context.Context) (int64, error) {
	return r.dao.CountBacklog(ctx)
}

func (r *pushNotificationRepository) toEntity(n domain.PushNotification) (dao.PushNotification, error) {
	payload, err := n.MarshalPayload()
	if err != nil {
		return dao.PushNotification{}, err
	}
	return dao.PushNotification{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		EventKey:    n.EventKey,
		ChannelID:   n.ChannelID,
		Payload:     payload,
		Status:      domain.SendStatusPending.String(),
		Attempts:    n.Attempts,
		NextRetryAt: n.NextRetryAt.UnixMilli(),
	}, nil
}

func (r *pushNotificationRepository) toDomain(entity dao.PushNotification) (domain.PushNotification, error) {
	n := domain.PushNotification{
		ID:          entity.ID,
		RecipientID: entity.RecipientID,
		EventKey:    entity.EventKey,
		ChannelID:   entity.ChannelID,
		Status:      domain.SendStatus(entity.Status),
		Attempts:    entity.Attempts,
		NextRetryAt: time.UnixMilli(entity.NextRetryAt),
		Version:     entity.Version,
		Ctime:       time.UnixMilli(entity.Ctime),
	}
	if err := n.UnmarshalPayload(entity.Payload); err != nil {
		return domain.PushNotification{}, err
	}
	return n, nil
}
