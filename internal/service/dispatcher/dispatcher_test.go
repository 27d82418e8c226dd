package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/pkg/retry"
	"gitee.com/flycash/live-interaction/internal/service/push/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNotificationRepo 记录状态流转的内存仓储
type fakeNotificationRepo struct {
	mu  sync.Mutex
	due []domain.PushNotification

	delivered  map[uint64]int32
	retried    map[uint64]int32
	retryTimes map[uint64]time.Time
	dead       map[uint64]int32
	backlog    int64
}

func newFakeNotificationRepo(due ...domain.PushNotification) *fakeNotificationRepo {
	return &fakeNotificationRepo{
		due:        due,
		delivered:  make(map[uint64]int32),
		retried:    make(map[uint64]int32),
		retryTimes: make(map[uint64]time.Time),
		dead:       make(map[uint64]int32),
	}
}

func (f *fakeNotificationRepo) Enqueue(_ context.Context, n domain.PushNotification) (domain.PushNotification, error) {
	return n, nil
}

func (f *fakeNotificationRepo) ClaimDue(_ context.Context, _ time.Time, maxN int) ([]domain.PushNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.due) <= maxN {
		res := f.due
		f.due = nil
		return res, nil
	}
	res := f.due[:maxN]
	f.due = f.due[maxN:]
	return res, nil
}

func (f *fakeNotificationRepo) MarkDelivered(_ context.Context, id uint64, attempts int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[id] = attempts
	return nil
}

func (f *fakeNotificationRepo) MarkRetryLater(_ context.Context, id uint64, attempts int32, nextRetryAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried[id] = attempts
	f.retryTimes[id] = nextRetryAt
	return nil
}

func (f *fakeNotificationRepo) MarkDead(_ context.Context, id uint64, attempts int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[id] = attempts
	return nil
}

func (f *fakeNotificationRepo) RequeueStaleSending(_ context.Context, _ time.Time, _ int32, _ int) (int64, error) {
	return 0, nil
}

func (f *fakeNotificationRepo) Backlog(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backlog, nil
}

// fakePusher 按通知ID返回预置的结果
type fakePusher struct {
	mu      sync.Mutex
	results map[uint64]error
	pushed  []uint64
}

func newFakePusher() *fakePusher {
	return &fakePusher{results: make(map[uint64]error)}
}

func (f *fakePusher) Push(_ context.Context, n domain.PushNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, n.ID)
	return f.results[n.ID]
}

func notification(id uint64, attempts int32) domain.PushNotification {
	return domain.PushNotification{
		ID:          id,
		RecipientID: 100,
		EventKey:    fmt.Sprintf("room-1:%d", id),
		ChannelID:   "room-1",
		Payload:     domain.PushPayload{Title: "t", Body: "b"},
		Status:      domain.SendStatusSending,
		Attempts:    attempts,
	}
}

func newStrategy(t *testing.T) retry.Strategy {
	t.Helper()
	return retry.NewExponentialBackoffStrategy(30*time.Second, time.Hour, 5)
}

func TestDispatcher_DrainOnce(t *testing.T) {
	t.Parallel()

	t.Run("投递成功记入总尝试次数", func(t *testing.T) {
		t.Parallel()
		// 此前已经瞬时失败三次，这一次成功，总次数应当是4
		repo := newFakeNotificationRepo(notification(1, 3))
		pusher := newFakePusher()
		d := NewDispatcher(repo, pusher, newStrategy(t))

		handled, err := d.DrainOnce(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, handled)
		assert.Equal(t, int32(4), repo.delivered[1])
		assert.Empty(t, repo.retried)
		assert.Empty(t, repo.dead)
	})

	t.Run("瞬时失败按退避重新排队", func(t *testing.T) {
		t.Parallel()
		repo := newFakeNotificationRepo(notification(1, 0))
		pusher := newFakePusher()
		pusher.results[1] = fmt.Errorf("%w: 503", client.ErrTransientFailure)
		d := NewDispatcher(repo, pusher, newStrategy(t))

		start := time.Now()
		_, err := d.DrainOnce(t.Context())
		require.NoError(t, err)

		assert.Equal(t, int32(1), repo.retried[1])
		// 指数退避首跳30s，抖动±20%
		delay := repo.retryTimes[1].Sub(start)
		assert.InDelta(t, float64(30*time.Second), float64(delay), float64(8*time.Second))
		assert.Empty(t, repo.dead)
	})

	t.Run("重试次数耗尽进入死信", func(t *testing.T) {
		t.Parallel()
		// 已经失败4次，本次失败之后达到上限5
		repo := newFakeNotificationRepo(notification(1, 4))
		pusher := newFakePusher()
		pusher.results[1] = fmt.Errorf("%w: 超时", client.ErrTransientFailure)
		d := NewDispatcher(repo, pusher, newStrategy(t))

		_, err := d.DrainOnce(t.Context())
		require.NoError(t, err)

		assert.Equal(t, int32(5), repo.dead[1])
		assert.Empty(t, repo.retried)
	})

	t.Run("永久失败立刻进入死信", func(t *testing.T) {
		t.Parallel()
		repo := newFakeNotificationRepo(notification(1, 0))
		pusher := newFakePusher()
		pusher.results[1] = fmt.Errorf("%w: 订阅已过期", client.ErrPermanentFailure)
		d := NewDispatcher(repo, pusher, newStrategy(t))

		_, err := d.DrainOnce(t.Context())
		require.NoError(t, err)

		assert.Equal(t, int32(1), repo.dead[1])
		assert.Empty(t, repo.retried)
	})

	t.Run("没有到期通知直接返回", func(t *testing.T) {
		t.Parallel()
		repo := newFakeNotificationRepo()
		pusher := newFakePusher()
		d := NewDispatcher(repo, pusher, newStrategy(t))

		handled, err := d.DrainOnce(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 0, handled)
		assert.Empty(t, pusher.pushed)
	})

	t.Run("一批里的结局互不影响", func(t *testing.T) {
		t.Parallel()
		repo := newFakeNotificationRepo(
			notification(1, 0),
			notification(2, 0),
			notification(3, 0),
		)
		pusher := newFakePusher()
		pusher.results[2] = fmt.Errorf("%w: 503", client.ErrTransientFailure)
		pusher.results[3] = fmt.Errorf("%w: 410", client.ErrPermanentFailure)
		d := NewDispatcher(repo, pusher, newStrategy(t))

		handled, err := d.DrainOnce(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 3, handled)
		assert.Equal(t, int32(1), repo.delivered[1])
		assert.Equal(t, int32(1), repo.retried[2])
		assert.Equal(t, int32(1), repo.dead[3])
	})

	t.Run("批量大小限制单轮认领数", func(t *testing.T) {
		t.Parallel()
		repo := newFakeNotificationRepo(
			notification(1, 0),
			notification(2, 0),
			notification(3, 0),
		)
		pusher := newFakePusher()
		d := NewDispatcher(repo, pusher, newStrategy(t), WithBatchSize(2))

		handled, err := d.DrainOnce(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 2, handled)

		handled, err = d.DrainOnce(t.Context())
		require.NoError(t, err)
		assert.Equal(t, 1, handled)
	})
}

func TestDispatcher_EndToEndRetryJourney(t *testing.T) {
	t.Parallel()
	// 三次瞬时失败之后成功：最终 DELIVERED，总尝试次数4
	n := notification(1, 0)
	repo := newFakeNotificationRepo()
	pusher := newFakePusher()
	pusher.results[1] = fmt.Errorf("%w: 网络抖动", client.ErrTransientFailure)
	d := NewDispatcher(repo, pusher, newStrategy(t))
	ctx := t.Context()

	for round := 0; round < 3; round++ {
		repo.mu.Lock()
		repo.due = []domain.PushNotification{n}
		repo.mu.Unlock()
		_, err := d.DrainOnce(ctx)
		require.NoError(t, err)
		n.Attempts = repo.retried[1]
	}
	assert.Equal(t, int32(3), n.Attempts)

	pusher.mu.Lock()
	delete(pusher.results, 1)
	pusher.mu.Unlock()
	repo.mu.Lock()
	repo.due = []domain.PushNotification{n}
	repo.mu.Unlock()
	_, err := d.DrainOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(4), repo.delivered[1])
	assert.Empty(t, repo.dead)
}
