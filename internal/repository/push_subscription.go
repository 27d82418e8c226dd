package repository

import (
	"context"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/repository/dao"
	"github.com/ecodeclub/ekit/slice"
)

// PushSubscriptionRepository 推送订阅仓储
type PushSubscriptionRepository interface {
	Create(ctx context.Context, sub domain.PushSubscription) (domain.PushSubscription, error)
	// ActiveByUser 用户全部可用订阅，投递时逐个推
	ActiveByUser(ctx context.Context, userID int64) ([]domain.PushSubscription, error)
	// Deactivate 订阅失效之后停用
	Deactivate(ctx context.Context, id int64) error
	// TouchLastUsed 投递成功之后刷新最近使用时间
	TouchLastUsed(ctx context.Context, id int64) error
}

type pushSubscriptionRepository struct {
	dao dao.PushSubscriptionDAO
}

func NewPushSubscriptionRepository(d dao.PushSubscriptionDAO) PushSubscriptionRepository {
	return &pushSubscriptionRepository{dao: d}
}

func (r *pushSubscriptionRepository) Create(ctx context.Context, sub domain.PushSubscription) (domain.PushSubscription, error) {
	created, err := r.dao.Create(ctx, r.toEntity(sub))
	if err != nil {
		return domain.PushSubscription{}, err
	}
	return r.toDomain(created), nil
}

func (r *pushSubscriptionRepository) ActiveByUser(ctx context.Context, userID int64) ([]domain.PushSubscription, error) {
	subs, err := r.dao.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return slice.Map(subs, func(_ int, src dao.PushSubscription) domain.PushSubscription {
		return r.toDomain(src)
	}), nil
}

func (r *pushSubscriptionRepository) Deactivate(ctx context.Context, id int64) error {
	return r.dao.Deactivate(ctx, id)
}

func (r *pushSubscriptionRepository) TouchLastUsed(ctx context.Context, id int64) error {
	return r.dao.TouchLastUsed(ctx, id)
}

func (r *pushSubscriptionRepository) toEntity(sub domain.PushSubscription) dao.PushSubscription {
	return dao.PushSubscription{
		ID:       sub.ID,
		UserID:   sub.UserID,
		Kind:     string(sub.Kind),
		Endpoint: sub.Endpoint,
		P256dh:   sub.P256dh,
		Auth:     sub.Auth,
		Active:   sub.Active,
	}
}

func (r *pushSubscriptionRepository) toDomain(entity dao.PushSubscription) domain.PushSubscription {
	return domain.PushSubscription{
		ID:         entity.ID,
		UserID:     entity.UserID,
		Kind:       domain.SubscriptionKind(entity.Kind),
		Endpoint:   entity.Endpoint,
		P256dh:     entity.P256dh,
		Auth:       entity.Auth,
		Active:     entity.Active,
		LastUsedAt: time.UnixMilli(entity.LastUsedAt),
	}
}
