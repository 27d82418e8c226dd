package domain

import (
	"fmt"
	"regexp"

	"gitee.com/flycash/live-interaction/internal/errs"
)

// 频道ID只允许字母数字和中划线下划线，最长64
var channelIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateChannelID 校验频道ID格式
func ValidateChannelID(id string) error {
	if !channelIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", errs.ErrInvalidChannel, id)
	}
	return nil
}

// ChannelState 频道状态快照，也是写回持久化的形态。
// 内存中的频道状态归聚合器独占，这里只承载一次复制之后的结果。
type ChannelState struct {
	ID string
	// ViewerCount 去重之后的观众数，同一用户开多个会话只算一个
	ViewerCount int
	// Version 每次变更递增，用于排序与幂等
	Version int64
	// LastEventID 频道内已分配的最大事件ID
	LastEventID int64
	// RecentEvents 最近事件环的快照，供晚加入的观众回放
	RecentEvents []InteractionEvent
}
