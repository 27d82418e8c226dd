package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/repository/cache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{
		rdb: rdb,
	}
}

func (c *Cache) Get(ctx context.Context, id string) (domain.ChannelState, error) {
	key := cache.ChannelStateKey(id)
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ChannelState{}, cache.ErrKeyNotFound
		}
		return domain.ChannelState{}, fmt.Errorf("failed to get channel state from redis %w", err)
	}

	var state domain.ChannelState
	err = json.Unmarshal([]byte(val), &state)
	if err != nil {
		return domain.ChannelState{}, fmt.Errorf("failed to unmarshal channel state %w", err)
	}
	return state, nil
}

func (c *Cache) Set(ctx context.Context, state domain.ChannelState) error {
	key := cache.ChannelStateKey(state.ID)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal channel state %w", err)
	}

	err = c.rdb.Set(ctx, key, data, cache.DefaultExpiredTime).Err()
	if err != nil {
		return fmt.Errorf("failed to set channel state to redis %w", err)
	}
	return nil
}

func (c *Cache) Del(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, cache.ChannelStateKey(id)).Err()
}
