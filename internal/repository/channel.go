package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/errs"
	"gitee.com/flycash/live-interaction/internal/repository/cache"
	"gitee.com/flycash/live-interaction/internal/repository/dao"
	"github.com/gotomicro/ego/core/elog"
)

// ChannelStateRepository 频道状态的持久化端口。
// 聚合器 write-behind 的落点，读路径：本地缓存 -> redis -> DAO
type ChannelStateRepository interface {
	// Load 读取最近一次落库的频道状态，不存在返回 errs.ErrChannelNotFound
	Load(ctx context.Context, id string) (domain.ChannelState, error)
	// Flush 写回频道状态快照
	Flush(ctx context.Context, state domain.ChannelState) error
}

type channelStateRepository struct {
	dao    dao.ChannelStateDAO
	local  cache.ChannelStateCache
	redis  cache.ChannelStateCache
	logger *elog.Component
}

func NewChannelStateRepository(d dao.ChannelStateDAO, local, redis cache.ChannelStateCache) ChannelStateRepository {
	return &channelStateRepository{
		dao:    d,
		local:  local,
		redis:  redis,
		logger: elog.DefaultLogger,
	}
}

func (r *channelStateRepository) Load(ctx context.Context, id string) (domain.ChannelState, error) {
	state, err := r.local.Get(ctx, id)
	if err == nil {
		return state, nil
	}

	state, err = r.redis.Get(ctx, id)
	if err == nil {
		_ = r.local.Set(ctx, state)
		return state, nil
	}
	if !errors.Is(err, cache.ErrKeyNotFound) {
		r.logger.Warn("读取频道状态缓存失败，回源DAO", elog.String("channel", id), elog.FieldErr(err))
	}

	entity, err := r.dao.GetByID(ctx, id)
	if err != nil {
		return domain.ChannelState{}, err
	}
	state, err = r.toDomain(entity)
	if err != nil {
		return domain.ChannelState{}, err
	}
	_ = r.redis.Set(ctx, state)
	_ = r.local.Set(ctx, state)
	return state, nil
}

func (r *channelStateRepository) Flush(ctx context.Context, state domain.ChannelState) error {
	entity, err := r.toEntity(state)
	if err != nil {
		return err
	}
	if err := r.dao.Upsert(ctx, entity); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrPersistenceUnavailable, err)
	}
	// 缓存失败不影响刷盘结果
	if err := r.redis.Set(ctx, state); err != nil {
		r.logger.Warn("频道状态写入redis失败", elog.String("channel", state.ID), elog.FieldErr(err))
	}
	_ = r.local.Set(ctx, state)
	return nil
}

func (r *channelStateRepository) toEntity(state domain.ChannelState) (dao.ChannelState, error) {
	recentEvents, err := json.Marshal(state.RecentEvents)
	if err != nil {
		return dao.ChannelState{}, err
	}
	return dao.ChannelState{
		ID:           state.ID,
		ViewerCount:  state.ViewerCount,
		Version:      state.Version,
		LastEventID:  state.LastEventID,
		RecentEvents: string(recentEvents),
	}, nil
}

func (r *channelStateRepository) toDomain(entity dao.ChannelState) (domain.ChannelState, error) {
	var recentEvents []domain.InteractionEvent
	if entity.RecentEvents != "" {
		if err := json.Unmarshal([]byte(entity.RecentEvents), &recentEvents); err != nil {
			return domain.ChannelState{}, err
		}
	}
	return domain.ChannelState{
		ID:           entity.ID,
		ViewerCount:  entity.ViewerCount,
		Version:      entity.Version,
		LastEventID:  entity.LastEventID,
		RecentEvents: recentEvents,
	}, nil
}
