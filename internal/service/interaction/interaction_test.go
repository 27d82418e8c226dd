package interaction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/errs"
	"gitee.com/flycash/live-interaction/internal/event"
	"gitee.com/flycash/live-interaction/internal/service/aggregator"
	"gitee.com/flycash/live-interaction/internal/service/broadcast"
	"gitee.com/flycash/live-interaction/internal/service/registry"
	"github.com/sony/sonyflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStateRepo struct {
	mu     sync.Mutex
	states map[string]domain.ChannelState
}

func (f *fakeStateRepo) Load(_ context.Context, id string) (domain.ChannelState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok {
		return domain.ChannelState{}, fmt.Errorf("%w: %s", errs.ErrChannelNotFound, id)
	}
	return state, nil
}

func (f *fakeStateRepo) Flush(_ context.Context, state domain.ChannelState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[state.ID] = state
	return nil
}

type fakeNotifRepo struct {
	mu       sync.Mutex
	enqueued []domain.PushNotification
}

func (f *fakeNotifRepo) Enqueue(_ context.Context, n domain.PushNotification) (domain.PushNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, n)
	return n, nil
}

func (f *fakeNotifRepo) ClaimDue(_ context.Context, _ time.Time, _ int) ([]domain.PushNotification, error) {
	return nil, nil
}
func (f *fakeNotifRepo) MarkDelivered(_ context.Context, _ uint64, _ int32) error { return nil }
func (f *fakeNotifRepo) MarkRetryLater(_ context.Context, _ uint64, _ int32, _ time.Time) error {
	return nil
}
func (f *fakeNotifRepo) MarkDead(_ context.Context, _ uint64, _ int32) error { return nil }
func (f *fakeNotifRepo) RequeueStaleSending(_ context.Context, _ time.Time, _ int32, _ int) (int64, error) {
	return 0, nil
}
func (f *fakeNotifRepo) Backlog(_ context.Context) (int64, error) { return 0, nil }

type fakeSubRepo struct {
	mu      sync.Mutex
	created []domain.PushSubscription
}

func (f *fakeSubRepo) Create(_ context.Context, sub domain.PushSubscription) (domain.PushSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub.ID = int64(len(f.created) + 1)
	f.created = append(f.created, sub)
	return sub, nil
}

func (f *fakeSubRepo) ActiveByUser(_ context.Context, _ int64) ([]domain.PushSubscription, error) {
	return nil, nil
}
func (f *fakeSubRepo) Deactivate(_ context.Context, _ int64) error    { return nil }
func (f *fakeSubRepo) TouchLastUsed(_ context.Context, _ int64) error { return nil }

type fakeProducer struct {
	mu       sync.Mutex
	produced []event.InteractionEvent
	err      error
	// delay 模拟kafka抖动
	delay time.Duration
}

func (f *fakeProducer) Produce(_ context.Context, evt event.InteractionEvent) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.produced = append(f.produced, evt)
	return nil
}

func (f *fakeProducer) Close() {}

type fixture struct {
	svc       Service
	reg       registry.SessionRegistry
	notifRepo *fakeNotifRepo
	subRepo   *fakeSubRepo
	producer  *fakeProducer
}

func newFixture(opts ...Option) *fixture {
	reg := registry.NewSessionRegistry()
	stateRepo := &fakeStateRepo{states: make(map[string]domain.ChannelState)}
	agg := aggregator.NewChannelAggregator(stateRepo, func(ctx context.Context, channelID string, userID int64) bool {
		return reg.HasViewer(ctx, channelID, userID)
	})
	router := broadcast.NewRouter()
	notifRepo := &fakeNotifRepo{}
	subRepo := &fakeSubRepo{}
	producer := &fakeProducer{}
	idGen := sonyflake.NewSonyflake(sonyflake.Settings{
		MachineID: func() (uint16, error) { return 1, nil },
	})
	return &fixture{
		svc:       NewService(reg, agg, router, notifRepo, subRepo, producer, idGen, opts...),
		reg:       reg,
		notifRepo: notifRepo,
		subRepo:   subRepo,
		producer:  producer,
	}
}

// drain 把发件箱里现有的帧全部读出来
func drain(t *testing.T, ctx context.Context, ob *broadcast.Outbox) []broadcast.Frame {
	t.Helper()
	var frames []broadcast.Frame
	for ob.Len() > 0 {
		frame, err := ob.Receive(ctx)
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	return frames
}

func TestService_Join(t *testing.T) {
	t.Parallel()

	t.Run("加入之后收到观众数和JOIN事件", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ctx := t.Context()

		session, outbox, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)
		require.NotNil(t, outbox)
		assert.Equal(t, "room-1", session.ChannelID)

		frames := drain(t, ctx, outbox)
		require.Len(t, frames, 2)
		assert.Equal(t, broadcast.FrameKindViewerCount, frames[0].Kind)
		assert.Equal(t, 1, frames[0].ViewerCount)
		assert.Equal(t, broadcast.FrameKindEvent, frames[1].Kind)
		assert.Equal(t, domain.EventKindJoin, frames[1].Event.Kind)
		assert.Equal(t, int64(100), frames[1].Event.ActorID)
	})

	t.Run("非法频道拒绝加入", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		_, _, err := f.svc.Join(t.Context(), "!!bad!!", 100)
		assert.ErrorIs(t, err, errs.ErrInvalidChannel)
	})
}

func TestService_HandleEvent(t *testing.T) {
	t.Parallel()

	t.Run("评论走完整流水线", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ctx := t.Context()
		author, outbox, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)
		drain(t, ctx, outbox)

		applied, err := f.svc.HandleEvent(ctx, author.ID, domain.EventKindComment, 0, "大家好")
		require.NoError(t, err)
		assert.Positive(t, applied.ID)
		assert.Equal(t, int64(100), applied.ActorID)

		// 广播收到
		frames := drain(t, ctx, outbox)
		require.Len(t, frames, 1)
		assert.Equal(t, applied.ID, frames[0].Event.ID)

		// 事件日志收到
		f.producer.mu.Lock()
		defer f.producer.mu.Unlock()
		last := f.producer.produced[len(f.producer.produced)-1]
		assert.Equal(t, applied.ID, last.ID)
		assert.Equal(t, "COMMENT", last.Kind)
	})

	t.Run("定向评论给离线用户派生通知", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ctx := t.Context()
		author, _, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)

		applied, err := f.svc.HandleEvent(ctx, author.ID, domain.EventKindComment, 200, "@你 在吗")
		require.NoError(t, err)

		f.notifRepo.mu.Lock()
		defer f.notifRepo.mu.Unlock()
		require.Len(t, f.notifRepo.enqueued, 1)
		n := f.notifRepo.enqueued[0]
		assert.Positive(t, n.ID)
		assert.Equal(t, int64(200), n.RecipientID)
		assert.Equal(t, applied.Key(), n.EventKey)
	})

	t.Run("定向评论给在线用户不派生通知", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ctx := t.Context()
		author, _, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)
		_, _, err = f.svc.Join(ctx, "room-1", 200)
		require.NoError(t, err)

		_, err = f.svc.HandleEvent(ctx, author.ID, domain.EventKindComment, 200, "@你")
		require.NoError(t, err)

		f.notifRepo.mu.Lock()
		defer f.notifRepo.mu.Unlock()
		assert.Empty(t, f.notifRepo.enqueued)
	})

	t.Run("不存在的会话被拒绝", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		_, err := f.svc.HandleEvent(t.Context(), "no-such", domain.EventKindLike, 0, "")
		assert.ErrorIs(t, err, errs.ErrSessionNotFound)
	})

	t.Run("会话不能上行JOIN和LEAVE", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ctx := t.Context()
		session, _, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)

		_, err = f.svc.HandleEvent(ctx, session.ID, domain.EventKindJoin, 0, "")
		assert.ErrorIs(t, err, errs.ErrInvalidParameter)
		_, err = f.svc.HandleEvent(ctx, session.ID, domain.EventKindLeave, 0, "")
		assert.ErrorIs(t, err, errs.ErrInvalidParameter)
	})

	t.Run("事件日志失败不阻断广播", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ctx := t.Context()
		f.producer.err = fmt.Errorf("kafka不可用")
		author, outbox, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)
		drain(t, ctx, outbox)

		applied, err := f.svc.HandleEvent(ctx, author.ID, domain.EventKindLike, 0, "")
		require.NoError(t, err)

		frames := drain(t, ctx, outbox)
		require.Len(t, frames, 1)
		assert.Equal(t, applied.ID, frames[0].Event.ID)
	})

	t.Run("并发上行观众按ID顺序收到事件", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ctx := t.Context()
		// 事件日志慢不能影响广播顺序
		f.producer.delay = 2 * time.Millisecond

		author, _, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)
		_, watcherOb, err := f.svc.Join(ctx, "room-1", 101)
		require.NoError(t, err)

		const workers = 4
		const perWorker = 10
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					_, hErr := f.svc.HandleEvent(ctx, author.ID, domain.EventKindLike, 0, "")
					assert.NoError(t, hErr)
				}
			}()
		}
		wg.Wait()

		var ids []int64
		for _, frame := range drain(t, ctx, watcherOb) {
			if frame.Kind != broadcast.FrameKindEvent {
				continue
			}
			ids = append(ids, frame.Event.ID)
		}
		// 观众自己的JOIN + 40个点赞
		require.Len(t, ids, workers*perWorker+1)
		for i := 1; i < len(ids); i++ {
			assert.Less(t, ids[i-1], ids[i])
		}
	})
}

type fakeLimiter struct {
	mu      sync.Mutex
	allowed int
	keys    []string
}

func (f *fakeLimiter) Limit(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	if f.allowed <= 0 {
		return true, nil
	}
	f.allowed--
	return false, nil
}

func TestService_RateLimit(t *testing.T) {
	t.Parallel()

	t.Run("超出速率的上行事件被拒绝", func(t *testing.T) {
		t.Parallel()
		limiter := &fakeLimiter{allowed: 2}
		f := newFixture(WithRateLimiter(limiter))
		ctx := t.Context()
		session, _, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			_, err = f.svc.HandleEvent(ctx, session.ID, domain.EventKindLike, 0, "")
			require.NoError(t, err)
		}
		_, err = f.svc.HandleEvent(ctx, session.ID, domain.EventKindLike, 0, "")
		assert.ErrorIs(t, err, errs.ErrRateLimited)
		// 限流key是观众去重标识
		assert.Equal(t, "user:100", limiter.keys[0])
	})

	t.Run("限流器故障时放行", func(t *testing.T) {
		t.Parallel()
		f := newFixture(WithRateLimiter(errLimiter{}))
		ctx := t.Context()
		session, _, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)

		_, err = f.svc.HandleEvent(ctx, session.ID, domain.EventKindLike, 0, "")
		assert.NoError(t, err)
	})
}

type errLimiter struct{}

func (errLimiter) Limit(_ context.Context, _ string) (bool, error) {
	return false, fmt.Errorf("redis不可用")
}

func TestService_Leave(t *testing.T) {
	t.Parallel()

	t.Run("离开之后其余观众收到LEAVE", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		ctx := t.Context()
		leaver, _, err := f.svc.Join(ctx, "room-1", 100)
		require.NoError(t, err)
		_, watcherOutbox, err := f.svc.Join(ctx, "room-1", 200)
		require.NoError(t, err)
		drain(t, ctx, watcherOutbox)

		require.NoError(t, f.svc.Leave(ctx, leaver.ID))

		frames := drain(t, ctx, watcherOutbox)
		require.Len(t, frames, 2)
		assert.Equal(t, broadcast.FrameKindViewerCount, frames[0].Kind)
		assert.Equal(t, 1, frames[0].ViewerCount)
		assert.Equal(t, domain.EventKindLeave, frames[1].Event.Kind)
	})

	t.Run("离开不存在的会话报错", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		err := f.svc.Leave(t.Context(), "no-such")
		assert.ErrorIs(t, err, errs.ErrSessionNotFound)
	})
}

func TestService_Recent(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := t.Context()
	author, _, err := f.svc.Join(ctx, "room-1", 100)
	require.NoError(t, err)
	_, err = f.svc.HandleEvent(ctx, author.ID, domain.EventKindComment, 0, "第一条")
	require.NoError(t, err)

	events, err := f.svc.Recent(ctx, "room-1")
	require.NoError(t, err)
	// JOIN + 评论
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventKindComment, events[1].Kind)
	assert.Equal(t, "第一条", events[1].Payload)
}

func TestService_RegisterSubscription(t *testing.T) {
	t.Parallel()

	t.Run("登记成功且默认激活", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		sub, err := f.svc.RegisterSubscription(t.Context(), domain.PushSubscription{
			UserID:   100,
			Kind:     domain.SubscriptionKindWebPush,
			Endpoint: "https://push.example.com/abc",
			P256dh:   "p",
			Auth:     "a",
		})
		require.NoError(t, err)
		assert.True(t, sub.Active)
		assert.Positive(t, sub.ID)
	})

	t.Run("缺少用户或端点被拒绝", func(t *testing.T) {
		t.Parallel()
		f := newFixture()
		_, err := f.svc.RegisterSubscription(t.Context(), domain.PushSubscription{UserID: 100})
		assert.ErrorIs(t, err, errs.ErrInvalidParameter)
	})
}

func TestService_OnSessionEvicted(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := t.Context()
	stale, _, err := f.svc.Join(ctx, "room-1", 100)
	require.NoError(t, err)
	_, watcherOutbox, err := f.svc.Join(ctx, "room-1", 200)
	require.NoError(t, err)
	drain(t, ctx, watcherOutbox)

	// 模拟清扫：先从注册表摘除，再走回调
	_, err = f.reg.Leave(ctx, stale.ID)
	require.NoError(t, err)
	f.svc.OnSessionEvicted(ctx, stale)

	frames := drain(t, ctx, watcherOutbox)
	require.Len(t, frames, 2)
	assert.Equal(t, broadcast.FrameKindViewerCount, frames[0].Kind)
	assert.Equal(t, domain.EventKindLeave, frames[1].Event.Kind)
}
