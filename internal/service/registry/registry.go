package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/errs"
	"github.com/gofrs/uuid"
)

const defaultHeartbeatTimeout = 30 * time.Second

// SessionRegistry 会话注册表，是观众连接的唯一事实来源。
// 同一用户在同一频道的多个会话计为一个观众，匿名会话各算各的
type SessionRegistry interface {
	Join(ctx context.Context, channelID string, userID int64) (domain.Session, error)
	// Leave 摘除会话并返回它，调用方据此补发 LEAVE 事件
	Leave(ctx context.Context, sessionID string) (domain.Session, error)
	// Heartbeat 刷新会话活跃时间，心跳超时的会话会被清扫任务摘除
	Heartbeat(ctx context.Context, sessionID string) error
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	ListSessions(ctx context.Context, channelID string) []domain.Session
	// ViewerCount 去重之后的观众数
	ViewerCount(ctx context.Context, channelID string) int
	// ActiveChannels 当前至少有一个会话的频道
	ActiveChannels(ctx context.Context) []string
	// HasViewer 判断用户在频道内是否有活跃会话，离线通知靠它判定
	HasViewer(ctx context.Context, channelID string, userID int64) bool
	// Sweep 摘除心跳超时的会话并返回它们
	Sweep(ctx context.Context, now time.Time) []domain.Session
}

type sessionRegistry struct {
	mu sync.RWMutex
	// sessions 会话ID到会话的索引
	sessions map[string]domain.Session
	// channels 频道ID到会话ID集合的索引
	channels map[string]map[string]struct{}

	heartbeatTimeout time.Duration
	now              func() time.Time
}

type Option func(*sessionRegistry)

func WithHeartbeatTimeout(timeout time.Duration) Option {
	return func(r *sessionRegistry) {
		r.heartbeatTimeout = timeout
	}
}

func NewSessionRegistry(opts ...Option) SessionRegistry {
	r := &sessionRegistry{
		sessions:         make(map[string]domain.Session),
		channels:         make(map[string]map[string]struct{}),
		heartbeatTimeout: defaultHeartbeatTimeout,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *sessionRegistry) Join(_ context.Context, channelID string, userID int64) (domain.Session, error) {
	if err := domain.ValidateChannelID(channelID); err != nil {
		return domain.Session{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: 生成会话ID失败: %w", errs.ErrInvalidParameter, err)
	}
	now := r.now()
	session := domain.Session{
		ID:           id.String(),
		ChannelID:    channelID,
		UserID:       userID,
		ConnectedAt:  now,
		LastActiveAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	members, ok := r.channels[channelID]
	if !ok {
		members = make(map[string]struct{})
		r.channels[channelID] = members
	}
	members[session.ID] = struct{}{}
	return session, nil
}

func (r *sessionRegistry) Leave(_ context.Context, sessionID string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: id=%s", errs.ErrSessionNotFound, sessionID)
	}
	r.removeLocked(session)
	return session, nil
}

func (r *sessionRegistry) Heartbeat(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: id=%s", errs.ErrSessionNotFound, sessionID)
	}
	session.LastActiveAt = r.now()
	r.sessions[sessionID] = session
	return nil
}

func (r *sessionRegistry) Get(_ context.Context, sessionID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, fmt.Errorf("%w: id=%s", errs.ErrSessionNotFound, sessionID)
	}
	return session, nil
}

func (r *sessionRegistry) ListSessions(_ context.Context, channelID string) []domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.channels[channelID]
	res := make([]domain.Session, 0, len(members))
	for id := range members {
		res = append(res, r.sessions[id])
	}
	return res
}

func (r *sessionRegistry) ViewerCount(_ context.Context, channelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewerCountLocked(channelID)
}

func (r *sessionRegistry) viewerCountLocked(channelID string) int {
	viewers := make(map[string]struct{})
	for id := range r.channels[channelID] {
		viewers[r.sessions[id].ViewerKey()] = struct{}{}
	}
	return len(viewers)
}

func (r *sessionRegistry) ActiveChannels(_ context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]string, 0, len(r.channels))
	for id := range r.channels {
		res = append(res, id)
	}
	return res
}

func (r *sessionRegistry) HasViewer(_ context.Context, channelID string, userID int64) bool {
	if userID <= 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id := range r.channels[channelID] {
		if r.sessions[id].UserID == userID {
			return true
		}
	}
	return false
}

func (r *sessionRegistry) Sweep(_ context.Context, now time.Time) []domain.Session {
	deadline := now.Add(-r.heartbeatTimeout)
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []domain.Session
	for _, session := range r.sessions {
		if session.LastActiveAt.Before(deadline) {
			r.removeLocked(session)
			evicted = append(evicted, session)
		}
	}
	return evicted
}

func (r *sessionRegistry) removeLocked(session domain.Session) {
	delete(r.sessions, session.ID)
	members := r.channels[session.ChannelID]
	delete(members, session.ID)
	if len(members) == 0 {
		delete(r.channels, session.ChannelID)
	}
}
