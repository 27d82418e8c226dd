package push

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/service/push/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubRepo struct {
	mu          sync.Mutex
	subs        []domain.PushSubscription
	deactivated []int64
	touched     []int64
	listErr     error
}

func (f *fakeSubRepo) Create(_ context.Context, sub domain.PushSubscription) (domain.PushSubscription, error) {
	return sub, nil
}

func (f *fakeSubRepo) ActiveByUser(_ context.Context, _ int64) ([]domain.PushSubscription, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.subs, nil
}

func (f *fakeSubRepo) Deactivate(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	return nil
}

func (f *fakeSubRepo) TouchLastUsed(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, id)
	return nil
}

// fakeClient 按订阅ID返回预置结果
type fakeClient struct {
	mu      sync.Mutex
	results map[int64]error
	sent    []int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{results: make(map[int64]error)}
}

func (f *fakeClient) Send(_ context.Context, req client.SendReq) (client.SendResp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req.Subscription.ID)
	return client.SendResp{}, f.results[req.Subscription.ID]
}

func webpushSub(id int64) domain.PushSubscription {
	return domain.PushSubscription{
		ID:       id,
		UserID:   100,
		Kind:     domain.SubscriptionKindWebPush,
		Endpoint: fmt.Sprintf("https://push.example.com/%d", id),
		P256dh:   "p256dh",
		Auth:     "auth",
		Active:   true,
	}
}

func testNotification() domain.PushNotification {
	return domain.PushNotification{
		ID:          1,
		RecipientID: 100,
		EventKey:    "room-1:7",
		ChannelID:   "room-1",
		Payload:     domain.PushPayload{Title: "标题", Body: "内容"},
	}
}

func TestPusher_Push(t *testing.T) {
	t.Parallel()

	t.Run("任意一台设备送达即成功", func(t *testing.T) {
		t.Parallel()
		repo := &fakeSubRepo{subs: []domain.PushSubscription{webpushSub(1), webpushSub(2)}}
		c := newFakeClient()
		c.results[1] = fmt.Errorf("%w: 503", client.ErrTransientFailure)
		p := NewPusher(repo, map[domain.SubscriptionKind]client.Client{
			domain.SubscriptionKindWebPush: c,
		})

		err := p.Push(t.Context(), testNotification())
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, repo.touched)
	})

	t.Run("没有可用订阅算永久失败", func(t *testing.T) {
		t.Parallel()
		repo := &fakeSubRepo{}
		p := NewPusher(repo, map[domain.SubscriptionKind]client.Client{})

		err := p.Push(t.Context(), testNotification())
		assert.ErrorIs(t, err, client.ErrPermanentFailure)
	})

	t.Run("过期订阅被停用", func(t *testing.T) {
		t.Parallel()
		repo := &fakeSubRepo{subs: []domain.PushSubscription{webpushSub(1), webpushSub(2)}}
		c := newFakeClient()
		c.results[1] = fmt.Errorf("%w: 410", client.ErrPermanentFailure)
		p := NewPusher(repo, map[domain.SubscriptionKind]client.Client{
			domain.SubscriptionKindWebPush: c,
		})

		err := p.Push(t.Context(), testNotification())
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, repo.deactivated)
		assert.Equal(t, []int64{2}, repo.touched)
	})

	t.Run("全部瞬时失败返回瞬时失败", func(t *testing.T) {
		t.Parallel()
		repo := &fakeSubRepo{subs: []domain.PushSubscription{webpushSub(1), webpushSub(2)}}
		c := newFakeClient()
		c.results[1] = fmt.Errorf("%w: 超时", client.ErrTransientFailure)
		c.results[2] = fmt.Errorf("%w: 503", client.ErrTransientFailure)
		p := NewPusher(repo, map[domain.SubscriptionKind]client.Client{
			domain.SubscriptionKindWebPush: c,
		})

		err := p.Push(t.Context(), testNotification())
		assert.ErrorIs(t, err, client.ErrTransientFailure)
	})

	t.Run("全部订阅失效返回永久失败", func(t *testing.T) {
		t.Parallel()
		repo := &fakeSubRepo{subs: []domain.PushSubscription{webpushSub(1)}}
		c := newFakeClient()
		c.results[1] = fmt.Errorf("%w: 404", client.ErrPermanentFailure)
		p := NewPusher(repo, map[domain.SubscriptionKind]client.Client{
			domain.SubscriptionKindWebPush: c,
		})

		err := p.Push(t.Context(), testNotification())
		assert.ErrorIs(t, err, client.ErrPermanentFailure)
		assert.Equal(t, []int64{1}, repo.deactivated)
	})

	t.Run("查询订阅失败按瞬时处理", func(t *testing.T) {
		t.Parallel()
		repo := &fakeSubRepo{listErr: fmt.Errorf("db down")}
		p := NewPusher(repo, map[domain.SubscriptionKind]client.Client{})

		err := p.Push(t.Context(), testNotification())
		assert.ErrorIs(t, err, client.ErrTransientFailure)
	})

	t.Run("未接入的渠道被跳过", func(t *testing.T) {
		t.Parallel()
		fcmSub := webpushSub(1)
		fcmSub.Kind = domain.SubscriptionKindFCM
		repo := &fakeSubRepo{subs: []domain.PushSubscription{fcmSub, webpushSub(2)}}
		c := newFakeClient()
		p := NewPusher(repo, map[domain.SubscriptionKind]client.Client{
			domain.SubscriptionKindWebPush: c,
		})

		err := p.Push(t.Context(), testNotification())
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, c.sent)
	})
}
