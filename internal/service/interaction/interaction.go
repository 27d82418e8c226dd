package interaction

import (
	"context"
	"fmt"
	"sync"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/errs"
	"gitee.com/flycash/live-interaction/internal/event"
	"gitee.com/flycash/live-interaction/internal/pkg/ratelimit"
	"gitee.com/flycash/live-interaction/internal/repository"
	"gitee.com/flycash/live-interaction/internal/service/aggregator"
	"gitee.com/flycash/live-interaction/internal/service/broadcast"
	"gitee.com/flycash/live-interaction/internal/service/registry"
	"github.com/gotomicro/ego/core/elog"
	"github.com/sony/sonyflake"
)

// Service 互动门面，入站流量的唯一入口。
// 把注册表、聚合器、广播路由、通知入队和事件日志串成一条链
type Service interface {
	// Join 进入频道：登记会话、建立发件箱、补发 JOIN 事件
	Join(ctx context.Context, channelID string, userID int64) (domain.Session, *broadcast.Outbox, error)
	// Leave 离开频道：摘除会话、关闭发件箱、补发 LEAVE 事件
	Leave(ctx context.Context, sessionID string) error
	Heartbeat(ctx context.Context, sessionID string) error
	// HandleEvent 处理会话上行的互动事件，返回已分配ID的事件
	HandleEvent(ctx context.Context, sessionID string, kind domain.EventKind, targetUserID int64, payload string) (domain.InteractionEvent, error)
	// Recent 最近事件回放，晚加入的观众用来对齐
	Recent(ctx context.Context, channelID string) ([]domain.InteractionEvent, error)
	// RegisterSubscription 登记一台设备的推送订阅
	RegisterSubscription(ctx context.Context, sub domain.PushSubscription) (domain.PushSubscription, error)
	// OnSessionEvicted 心跳清扫的回调，为被摘除的会话补发 LEAVE
	OnSessionEvicted(ctx context.Context, session domain.Session)
}

type service struct {
	registry    registry.SessionRegistry
	aggregator  aggregator.ChannelAggregator
	router      broadcast.Router
	notifRepo   repository.PushNotificationRepository
	subRepo     repository.PushSubscriptionRepository
	producer    event.Producer
	idGenerator *sonyflake.Sonyflake
	limiter     ratelimit.Limiter
	logger      *elog.Component

	// chMu 保护 chLocks；chLocks 里的锁把单个频道从分配ID到进入发件箱
	// 这一段串起来，并发上行不会把频道内的事件顺序打乱
	chMu    sync.Mutex
	chLocks map[string]*sync.Mutex
}

type Option func(*service)

// WithRateLimiter 为上行互动事件启用限流，key 是观众去重标识
func WithRateLimiter(limiter ratelimit.Limiter) Option {
	return func(s *service) { s.limiter = limiter }
}

func NewService(
	reg registry.SessionRegistry,
	agg aggregator.ChannelAggregator,
	router broadcast.Router,
	notifRepo repository.PushNotificationRepository,
	subRepo repository.PushSubscriptionRepository,
	producer event.Producer,
	idGenerator *sonyflake.Sonyflake,
	opts ...Option,
) Service {
	s := &service{
		registry:    reg,
		aggregator:  agg,
		router:      router,
		notifRepo:   notifRepo,
		subRepo:     subRepo,
		producer:    producer,
		idGenerator: idGenerator,
		logger:      elog.DefaultLogger,
		chLocks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Join(ctx context.Context, channelID string, userID int64) (domain.Session, *broadcast.Outbox, error) {
	session, err := s.registry.Join(ctx, channelID, userID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	outbox := s.router.Subscribe(ctx, session)
	s.syncViewerCount(ctx, channelID)

	s.applyAndFanout(ctx, domain.InteractionEvent{
		ChannelID: channelID,
		Kind:      domain.EventKindJoin,
		ActorID:   userID,
	})
	return session, outbox, nil
}

func (s *service) Leave(ctx context.Context, sessionID string) error {
	session, err := s.registry.Leave(ctx, sessionID)
	if err != nil {
		return err
	}
	s.router.Unsubscribe(ctx, sessionID)
	s.syncViewerCount(ctx, session.ChannelID)

	s.applyAndFanout(ctx, domain.InteractionEvent{
		ChannelID: session.ChannelID,
		Kind:      domain.EventKindLeave,
		ActorID:   session.UserID,
	})
	return nil
}

func (s *service) Heartbeat(ctx context.Context, sessionID string) error {
	return s.registry.Heartbeat(ctx, sessionID)
}

func (s *service) HandleEvent(ctx context.Context, sessionID string, kind domain.EventKind, targetUserID int64, payload string) (domain.InteractionEvent, error) {
	// 事件必须来自活跃会话，频道和演员身份以注册表为准
	session, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return domain.InteractionEvent{}, err
	}
	switch kind {
	case domain.EventKindLike, domain.EventKindComment:
	default:
		return domain.InteractionEvent{}, fmt.Errorf("%w: 会话不能上行 %s 事件", errs.ErrInvalidParameter, kind)
	}

	if s.limiter != nil {
		limited, err := s.limiter.Limit(ctx, session.ViewerKey())
		if err != nil {
			// 限流器故障放行，不能让redis抖动打断互动
			s.logger.Warn("限流器不可用，放行", elog.FieldErr(err))
		} else if limited {
			return domain.InteractionEvent{}, fmt.Errorf("%w: %s", errs.ErrRateLimited, session.ViewerKey())
		}
	}

	applied, err := s.apply(ctx, domain.InteractionEvent{
		ChannelID:    session.ChannelID,
		Kind:         kind,
		ActorID:      session.UserID,
		TargetUserID: targetUserID,
		Payload:      payload,
	})
	if err != nil {
		return domain.InteractionEvent{}, err
	}
	return applied, nil
}

func (s *service) Recent(ctx context.Context, channelID string) ([]domain.InteractionEvent, error) {
	if err := domain.ValidateChannelID(channelID); err != nil {
		return nil, err
	}
	return s.aggregator.Replay(ctx, channelID)
}

func (s *service) RegisterSubscription(ctx context.Context, sub domain.PushSubscription) (domain.PushSubscription, error) {
	if sub.UserID <= 0 || sub.Endpoint == "" {
		return domain.PushSubscription{}, fmt.Errorf("%w: 订阅缺少用户或端点", errs.ErrInvalidParameter)
	}
	sub.Active = true
	return s.subRepo.Create(ctx, sub)
}

func (s *service) OnSessionEvicted(ctx context.Context, session domain.Session) {
	s.router.Unsubscribe(ctx, session.ID)
	s.syncViewerCount(ctx, session.ChannelID)
	s.applyAndFanout(ctx, domain.InteractionEvent{
		ChannelID: session.ChannelID,
		Kind:      domain.EventKindLeave,
		ActorID:   session.UserID,
	})
}

// applyAndFanout 内部事件（JOIN/LEAVE）的便捷入口，失败只记日志
func (s *service) applyAndFanout(ctx context.Context, evt domain.InteractionEvent) {
	if _, err := s.apply(ctx, evt); err != nil {
		s.logger.Warn("内部事件处理失败",
			elog.String("channel", evt.ChannelID),
			elog.String("kind", evt.Kind.String()),
			elog.FieldErr(err))
	}
}

// apply 事件主流水线：聚合 -> 广播扇出 -> 通知入队 -> 事件日志。
// 聚合分配ID到写入发件箱必须对同一频道串行，中间插进任何IO都可能
// 让后分配的ID先进发件箱；发件箱写入本身不阻塞，临界区只有内存操作
func (s *service) apply(ctx context.Context, evt domain.InteractionEvent) (domain.InteractionEvent, error) {
	mu := s.channelLock(evt.ChannelID)
	mu.Lock()
	applied, notifications, err := s.aggregator.Apply(ctx, evt)
	if err != nil {
		mu.Unlock()
		return domain.InteractionEvent{}, err
	}
	s.router.Publish(ctx, applied.ChannelID, applied)
	mu.Unlock()

	s.enqueueNotifications(ctx, notifications)

	// 事件日志尽力而为，失败不能拖住广播
	if err := s.producer.Produce(ctx, event.NewInteractionEvent(applied)); err != nil {
		s.logger.Warn("互动事件写入日志失败",
			elog.String("channel", applied.ChannelID),
			elog.Any("eventId", applied.ID),
			elog.FieldErr(err))
	}
	return applied, nil
}

func (s *service) channelLock(channelID string) *sync.Mutex {
	s.chMu.Lock()
	defer s.chMu.Unlock()
	mu, ok := s.chLocks[channelID]
	if !ok {
		mu = &sync.Mutex{}
		s.chLocks[channelID] = mu
	}
	return mu
}

func (s *service) enqueueNotifications(ctx context.Context, notifications []domain.PushNotification) {
	for i := range notifications {
		n := notifications[i]
		id, err := s.idGenerator.NextID()
		if err != nil {
			s.logger.Error("生成通知ID失败", elog.FieldErr(err))
			continue
		}
		n.ID = id
		if err := n.Validate(); err != nil {
			s.logger.Warn("派生通知不合法，丢弃", elog.FieldErr(err))
			continue
		}
		if _, err := s.notifRepo.Enqueue(ctx, n); err != nil {
			s.logger.Error("通知入队失败",
				elog.Any("recipient", n.RecipientID),
				elog.String("eventKey", n.EventKey),
				elog.FieldErr(err))
		}
	}
}

func (s *service) syncViewerCount(ctx context.Context, channelID string) {
	count := s.registry.ViewerCount(ctx, channelID)
	if err := s.aggregator.SetViewerCount(ctx, channelID, count); err != nil {
		s.logger.Warn("同步观众数失败", elog.String("channel", channelID), elog.FieldErr(err))
	}
	s.router.PublishViewerCount(ctx, channelID, count)
}
