package broadcast

import (
	"context"
	"sync"

	"gitee.com/flycash/live-interaction/internal/domain"
)

const defaultOutboxCapacity = 64

// Router 广播路由器：把频道内的事件按序扇出到每个订阅会话的发件箱。
// 发布方从不阻塞，慢消费者由各自发件箱的压缩语义兜底
type Router interface {
	// Subscribe 为会话建立发件箱，重复订阅返回已有的
	Subscribe(ctx context.Context, session domain.Session) *Outbox
	// Unsubscribe 关闭并移除会话的发件箱，对不存在的会话是空操作
	Unsubscribe(ctx context.Context, sessionID string)
	// Publish 把事件按入参顺序推给频道的全部订阅者
	Publish(ctx context.Context, channelID string, events ...domain.InteractionEvent)
	// PublishViewerCount 推送观众数播报
	PublishViewerCount(ctx context.Context, channelID string, count int)
}

type router struct {
	mu sync.RWMutex
	// channels 频道到订阅会话的索引
	channels map[string]map[string]*Outbox
	// sessions 会话到频道的反向索引，退订用
	sessions map[string]string

	outboxCapacity int
}

type Option func(*router)

func WithOutboxCapacity(capacity int) Option {
	return func(r *router) { r.outboxCapacity = capacity }
}

func NewRouter(opts ...Option) Router {
	r := &router{
		channels:       make(map[string]map[string]*Outbox),
		sessions:       make(map[string]string),
		outboxCapacity: defaultOutboxCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *router) Subscribe(_ context.Context, session domain.Session) *Outbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.channels[session.ChannelID]
	if !ok {
		members = make(map[string]*Outbox)
		r.channels[session.ChannelID] = members
	}
	if outbox, ok := members[session.ID]; ok {
		return outbox
	}
	outbox := newOutbox(r.outboxCapacity)
	members[session.ID] = outbox
	r.sessions[session.ID] = session.ChannelID
	return outbox
}

func (r *router) Unsubscribe(_ context.Context, sessionID string) {
	r.mu.Lock()
	channelID, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	members := r.channels[channelID]
	outbox := members[sessionID]
	delete(members, sessionID)
	if len(members) == 0 {
		delete(r.channels, channelID)
	}
	r.mu.Unlock()

	outbox.close()
}

func (r *router) Publish(_ context.Context, channelID string, events ...domain.InteractionEvent) {
	outboxes := r.snapshot(channelID)
	for _, event := range events {
		frame := eventFrame(event)
		for _, outbox := range outboxes {
			outbox.push(frame)
		}
	}
}

func (r *router) PublishViewerCount(_ context.Context, channelID string, count int) {
	frame := viewerCountFrame(channelID, count)
	for _, outbox := range r.snapshot(channelID) {
		outbox.push(frame)
	}
}

// snapshot 在锁外扇出，发布路径不持全局锁
func (r *router) snapshot(channelID string) []*Outbox {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.channels[channelID]
	res := make([]*Outbox, 0, len(members))
	for _, outbox := range members {
		res = append(res, outbox)
	}
	return res
}
