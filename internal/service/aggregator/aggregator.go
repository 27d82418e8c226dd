package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/errs"
	"gitee.com/flycash/live-interaction/internal/pkg/metrics"
	"gitee.com/flycash/live-interaction/internal/pkg/ring"
	"gitee.com/flycash/live-interaction/internal/repository"
	"github.com/gotomicro/ego/core/elog"
)

const (
	defaultRingCapacity   = 256
	defaultDirtyThreshold = 64
	defaultEvictionGrace  = 60 * time.Second
)

// OnlineChecker 判断用户在频道内是否在线，决定评论是否转为离线推送
type OnlineChecker func(ctx context.Context, channelID string, userID int64) bool

// ChannelAggregator 频道状态聚合器。
// 每个频道的内存状态由各自的互斥锁保护，事件ID在频道内单调递增。
// 变更先落内存，由刷盘任务周期性写回，脏变更积累到阈值会立刻触发刷盘。
type ChannelAggregator interface {
	// Apply 应用一个事件：分配频道内递增ID、进入最近事件环，
	// 并在接收者离线时派生待投递通知（由调用方入队）
	Apply(ctx context.Context, event domain.InteractionEvent) (domain.InteractionEvent, []domain.PushNotification, error)
	// SetViewerCount 同步去重观众数
	SetViewerCount(ctx context.Context, channelID string, count int) error
	// Replay 最近事件环快照，从旧到新，供晚加入的观众回放
	Replay(ctx context.Context, channelID string) ([]domain.InteractionEvent, error)
	// Snapshot 频道状态快照
	Snapshot(ctx context.Context, channelID string) (domain.ChannelState, error)
	// FlushDirty 把所有脏频道写回持久化，失败的保留脏标记下轮重试
	FlushDirty(ctx context.Context)
	// EvictIdle 淘汰空置超过宽限期的频道，先刷盘再释放内存
	EvictIdle(ctx context.Context, now time.Time)
	// FlushSignal 脏变更到达阈值时的刷盘提示
	FlushSignal() <-chan struct{}
}

// channelEntry 单个频道的内存态，mu 保证频道内全部变更串行
type channelEntry struct {
	mu          sync.Mutex
	viewerCount int
	version     int64
	lastEventID int64
	recent      *ring.Buffer[domain.InteractionEvent]
	// dirty 距上次成功刷盘累计的变更数
	dirty int
	// emptySince 观众数降到0的时刻，零值表示频道非空
	emptySince time.Time
}

type channelAggregator struct {
	mu      sync.RWMutex
	entries map[string]*channelEntry

	repo   repository.ChannelStateRepository
	online OnlineChecker

	ringCapacity   int
	dirtyThreshold int
	evictionGrace  time.Duration

	flushCh chan struct{}
	logger  *elog.Component
	now     func() time.Time
}

type Option func(*channelAggregator)

func WithRingCapacity(capacity int) Option {
	return func(a *channelAggregator) { a.ringCapacity = capacity }
}

func WithDirtyThreshold(threshold int) Option {
	return func(a *channelAggregator) { a.dirtyThreshold = threshold }
}

func WithEvictionGrace(grace time.Duration) Option {
	return func(a *channelAggregator) { a.evictionGrace = grace }
}

func NewChannelAggregator(repo repository.ChannelStateRepository, online OnlineChecker, opts ...Option) ChannelAggregator {
	a := &channelAggregator{
		entries:        make(map[string]*channelEntry),
		repo:           repo,
		online:         online,
		ringCapacity:   defaultRingCapacity,
		dirtyThreshold: defaultDirtyThreshold,
		evictionGrace:  defaultEvictionGrace,
		flushCh:        make(chan struct{}, 1),
		logger:         elog.DefaultLogger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *channelAggregator) Apply(ctx context.Context, event domain.InteractionEvent) (domain.InteractionEvent, []domain.PushNotification, error) {
	if err := event.Validate(); err != nil {
		return domain.InteractionEvent{}, nil, err
	}
	entry, err := a.getOrLoad(ctx, event.ChannelID)
	if err != nil {
		return domain.InteractionEvent{}, nil, err
	}

	entry.mu.Lock()
	entry.lastEventID++
	entry.version++
	event.ID = entry.lastEventID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = a.now()
	}
	entry.recent.Append(event)
	a.markDirtyLocked(entry)
	entry.mu.Unlock()

	return event, a.deriveNotifications(ctx, event), nil
}

// deriveNotifications 定向评论且接收者不在频道内时转为离线推送
func (a *channelAggregator) deriveNotifications(ctx context.Context, event domain.InteractionEvent) []domain.PushNotification {
	if event.Kind != domain.EventKindComment || event.TargetUserID <= 0 {
		return nil
	}
	if a.online != nil && a.online(ctx, event.ChannelID, event.TargetUserID) {
		return nil
	}
	return []domain.PushNotification{
		{
			RecipientID: event.TargetUserID,
			EventKey:    event.Key(),
			ChannelID:   event.ChannelID,
			Payload: domain.PushPayload{
				Title:       "你在直播间收到了新回复",
				Body:        event.Payload,
				DeeplinkURL: fmt.Sprintf("/live/%s", event.ChannelID),
			},
			Status:      domain.SendStatusPending,
			NextRetryAt: a.now(),
		},
	}
}

func (a *channelAggregator) SetViewerCount(ctx context.Context, channelID string, count int) error {
	entry, err := a.getOrLoad(ctx, channelID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.viewerCount == count {
		return nil
	}
	entry.viewerCount = count
	entry.version++
	if count == 0 {
		entry.emptySince = a.now()
	} else {
		entry.emptySince = time.Time{}
	}
	a.markDirtyLocked(entry)
	metrics.ChannelViewers.WithLabelValues(channelID).Set(float64(count))
	return nil
}

func (a *channelAggregator) Replay(ctx context.Context, channelID string) ([]domain.InteractionEvent, error) {
	entry, err := a.getOrLoad(ctx, channelID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.recent.Snapshot(), nil
}

func (a *channelAggregator) Snapshot(ctx context.Context, channelID string) (domain.ChannelState, error) {
	entry, err := a.getOrLoad(ctx, channelID)
	if err != nil {
		return domain.ChannelState{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return a.snapshotLocked(channelID, entry), nil
}

func (a *channelAggregator) snapshotLocked(channelID string, entry *channelEntry) domain.ChannelState {
	return domain.ChannelState{
		ID:           channelID,
		ViewerCount:  entry.viewerCount,
		Version:      entry.version,
		LastEventID:  entry.lastEventID,
		RecentEvents: entry.recent.Snapshot(),
	}
}

// markDirtyLocked 记一次脏变更，积累到阈值提示刷盘任务立刻执行
func (a *channelAggregator) markDirtyLocked(entry *channelEntry) {
	entry.dirty++
	if entry.dirty < a.dirtyThreshold {
		return
	}
	select {
	case a.flushCh <- struct{}{}:
	default:
	}
}

func (a *channelAggregator) FlushSignal() <-chan struct{} {
	return a.flushCh
}

func (a *channelAggregator) FlushDirty(ctx context.Context) {
	a.mu.RLock()
	ids := make([]string, 0, len(a.entries))
	for id := range a.entries {
		ids = append(ids, id)
	}
	a.mu.RUnlock()

	for _, id := range ids {
		a.mu.RLock()
		entry, ok := a.entries[id]
		a.mu.RUnlock()
		if !ok {
			continue
		}
		a.flushEntry(ctx, id, entry)
	}
}

func (a *channelAggregator) flushEntry(ctx context.Context, channelID string, entry *channelEntry) {
	entry.mu.Lock()
	if entry.dirty == 0 {
		entry.mu.Unlock()
		return
	}
	snapshot := a.snapshotLocked(channelID, entry)
	flushed := entry.dirty
	entry.mu.Unlock()

	if err := a.repo.Flush(ctx, snapshot); err != nil {
		// 持久化不可用时继续用内存服务，脏标记保留到下轮
		if errors.Is(err, errs.ErrPersistenceUnavailable) {
			a.logger.Warn("频道状态刷盘降级，继续内存服务",
				elog.String("channel", channelID), elog.FieldErr(err))
		} else {
			a.logger.Error("频道状态刷盘失败",
				elog.String("channel", channelID), elog.FieldErr(err))
		}
		return
	}

	entry.mu.Lock()
	entry.dirty -= flushed
	if entry.dirty < 0 {
		entry.dirty = 0
	}
	entry.mu.Unlock()
}

// EvictIdle 淘汰空置频道。全局锁只用来扫描和摘除，刷盘IO放在锁外做，
// 一个频道的刷盘不能拖住别的频道的 Apply
func (a *channelAggregator) EvictIdle(ctx context.Context, now time.Time) {
	type candidate struct {
		id    string
		entry *channelEntry
	}
	a.mu.RLock()
	candidates := make([]candidate, 0, len(a.entries))
	for id, entry := range a.entries {
		candidates = append(candidates, candidate{id: id, entry: entry})
	}
	a.mu.RUnlock()

	for _, c := range candidates {
		c.entry.mu.Lock()
		if !a.idleLocked(c.entry, now) {
			c.entry.mu.Unlock()
			continue
		}
		snapshot := a.snapshotLocked(c.id, c.entry)
		dirty := c.entry.dirty
		c.entry.mu.Unlock()

		if dirty > 0 {
			if err := a.repo.Flush(ctx, snapshot); err != nil {
				a.logger.Warn("淘汰前刷盘失败，频道保留在内存",
					elog.String("channel", c.id), elog.FieldErr(err))
				continue
			}
		}

		// 刷盘期间可能有新观众或新事件进来，摘除前在锁内复核
		a.mu.Lock()
		entry, ok := a.entries[c.id]
		if !ok || entry != c.entry {
			a.mu.Unlock()
			continue
		}
		entry.mu.Lock()
		stillIdle := a.idleLocked(entry, now) && entry.version == snapshot.Version
		if stillIdle {
			delete(a.entries, c.id)
			metrics.ChannelViewers.DeleteLabelValues(c.id)
			a.logger.Info("淘汰空置频道", elog.String("channel", c.id))
		}
		entry.mu.Unlock()
		a.mu.Unlock()
	}
}

func (a *channelAggregator) idleLocked(entry *channelEntry, now time.Time) bool {
	return entry.viewerCount == 0 &&
		!entry.emptySince.IsZero() &&
		now.Sub(entry.emptySince) >= a.evictionGrace
}

// getOrLoad 取频道内存态，未加载的从仓储恢复，从未落过库的从零开始
func (a *channelAggregator) getOrLoad(ctx context.Context, channelID string) (*channelEntry, error) {
	a.mu.RLock()
	entry, ok := a.entries[channelID]
	a.mu.RUnlock()
	if ok {
		return entry, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok = a.entries[channelID]; ok {
		return entry, nil
	}

	if err := domain.ValidateChannelID(channelID); err != nil {
		return nil, err
	}
	state, err := a.repo.Load(ctx, channelID)
	if err != nil && !errors.Is(err, errs.ErrChannelNotFound) {
		return nil, err
	}

	entry = &channelEntry{
		version:     state.Version,
		lastEventID: state.LastEventID,
		recent:      ring.New[domain.InteractionEvent](a.ringCapacity),
	}
	// 观众数不回填快照里的旧值：当下有谁在看以注册表同步为准，
	// 同步到来之前按空频道对待，从现在开始计空置时间
	entry.emptySince = a.now()
	for _, e := range state.RecentEvents {
		entry.recent.Append(e)
	}
	a.entries[channelID] = entry
	return entry, nil
}
