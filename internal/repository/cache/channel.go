package cache

import (
	"context"
	"fmt"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"github.com/pkg/errors"
)

var ErrKeyNotFound = errors.New("key not found")

const DefaultExpiredTime = 10 * time.Minute

// ChannelStateKey 频道状态的缓存键
func ChannelStateKey(id string) string {
	return fmt.Sprintf("live_interaction:channel:%s", id)
}

// ChannelStateCache 频道状态缓存，挡在DAO前面加速重新加载
type ChannelStateCache interface {
	Get(ctx context.Context, id string) (domain.ChannelState, error)
	Set(ctx context.Context, state domain.ChannelState) error
	Del(ctx context.Context, id string) error
}
