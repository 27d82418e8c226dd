package domain

import (
	"fmt"
	"time"

	"gitee.com/flycash/live-interaction/internal/errs"
)

// EventKind 互动事件类型
type EventKind string

const (
	EventKindLike    EventKind = "LIKE"    // 点赞
	EventKindComment EventKind = "COMMENT" // 评论
	EventKindJoin    EventKind = "JOIN"    // 进入频道
	EventKindLeave   EventKind = "LEAVE"   // 离开频道
)

func (k EventKind) String() string {
	return string(k)
}

// InteractionEvent 互动事件，创建之后不可变
type InteractionEvent struct {
	// ID 频道内单调递增，由聚合器在 Apply 时分配
	ID        int64
	ChannelID string
	Kind      EventKind
	// ActorID 触发事件的用户，0 表示匿名观众
	ActorID int64
	// TargetUserID 被回复/提及的用户，0 表示无定向接收者
	TargetUserID int64
	Payload      string
	CreatedAt    time.Time
}

// Key 频道内事件的业务唯一标识，用于通知去重
func (e InteractionEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.ChannelID, e.ID)
}

func (e InteractionEvent) Validate() error {
	if err := ValidateChannelID(e.ChannelID); err != nil {
		return err
	}
	switch e.Kind {
	case EventKindLike, EventKindComment, EventKindJoin, EventKindLeave:
	default:
		return fmt.Errorf("%w: Kind = %q", errs.ErrInvalidParameter, e.Kind)
	}
	return nil
}
