package local

import (
	"context"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/repository/cache"
	ca "github.com/patrickmn/go-cache"
)

// Cache 进程内的频道状态缓存，只在频道被逐出内存又快速回来时兜底
type Cache struct {
	c *ca.Cache
}

func NewCache(c *ca.Cache) *Cache {
	return &Cache{c: c}
}

func (l *Cache) Get(_ context.Context, id string) (domain.ChannelState, error) {
	v, ok := l.c.Get(cache.ChannelStateKey(id))
	if !ok {
		return domain.ChannelState{}, cache.ErrKeyNotFound
	}
	return v.(domain.ChannelState), nil
}

func (l *Cache) Set(_ context.Context, state domain.ChannelState) error {
	l.c.Set(cache.ChannelStateKey(state.ID), state, cache.DefaultExpiredTime)
	return nil
}

func (l *Cache) Del(_ context.Context, id string) error {
	l.c.Delete(cache.ChannelStateKey(id))
	return nil
}
