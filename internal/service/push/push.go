package push

import (
	"context"
	"errors"
	"fmt"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/repository"
	"gitee.com/flycash/live-interaction/internal/service/push/client"
	"github.com/gotomicro/ego/core/elog"
)

const defaultTTLSeconds = 3600

// Pusher 把一条通知推给接收者的所有活跃订阅。
// 返回的错误携带 client.ErrTransientFailure / client.ErrPermanentFailure 语义，
// 投递者据此决定重试还是进死信
type Pusher interface {
	Push(ctx context.Context, notification domain.PushNotification) error
}

type pusher struct {
	subRepo repository.PushSubscriptionRepository
	clients map[domain.SubscriptionKind]client.Client
	logger  *elog.Component
}

func NewPusher(subRepo repository.PushSubscriptionRepository, clients map[domain.SubscriptionKind]client.Client) Pusher {
	return &pusher{
		subRepo: subRepo,
		clients: clients,
		logger:  elog.DefaultLogger,
	}
}

func (p *pusher) Push(ctx context.Context, notification domain.PushNotification) error {
	subs, err := p.subRepo.ActiveByUser(ctx, notification.RecipientID)
	if err != nil {
		// 查不到订阅表先按瞬时处理，下一轮重试
		return fmt.Errorf("%w: 查询订阅失败: %w", client.ErrTransientFailure, err)
	}
	if len(subs) == 0 {
		return fmt.Errorf("%w: 接收者没有可用订阅", client.ErrPermanentFailure)
	}

	payload, err := notification.MarshalPayload()
	if err != nil {
		return fmt.Errorf("%w: %w", client.ErrPermanentFailure, err)
	}

	var delivered, sawTransient bool
	for i := range subs {
		sub := subs[i]
		c, ok := p.clients[sub.Kind]
		if !ok {
			p.logger.Warn("未接入的推送渠道，跳过",
				elog.String("kind", string(sub.Kind)),
				elog.Any("subscriptionID", sub.ID))
			continue
		}

		_, err := c.Send(ctx, client.SendReq{
			Subscription: sub,
			Payload:      []byte(payload),
			TTLSeconds:   defaultTTLSeconds,
		})
		switch {
		case err == nil:
			delivered = true
			if err := p.subRepo.TouchLastUsed(ctx, sub.ID); err != nil {
				p.logger.Warn("刷新订阅使用时间失败", elog.Any("subscriptionID", sub.ID), elog.FieldErr(err))
			}
		case errors.Is(err, client.ErrPermanentFailure):
			// 过期订阅立刻停用，下一条通知不会再碰它
			if err := p.subRepo.Deactivate(ctx, sub.ID); err != nil {
				p.logger.Warn("停用过期订阅失败", elog.Any("subscriptionID", sub.ID), elog.FieldErr(err))
			}
		default:
			sawTransient = true
			p.logger.Warn("推送瞬时失败",
				elog.Any("notificationID", notification.ID),
				elog.Any("subscriptionID", sub.ID),
				elog.FieldErr(err))
		}
	}

	// 任意一台设备送达就算这条通知送达
	if delivered {
		return nil
	}
	if sawTransient {
		return fmt.Errorf("%w: 所有订阅本轮均未送达", client.ErrTransientFailure)
	}
	return fmt.Errorf("%w: 接收者所有订阅均已失效", client.ErrPermanentFailure)
}
