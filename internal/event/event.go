package event

import (
	"gitee.com/flycash/live-interaction/internal/domain"
)

// EventName 互动事件日志的topic。按频道ID分区，
// 保证同一频道的事件在日志里保持 Apply 顺序
const EventName = "interaction_events"

// InteractionEvent 互动事件的落盘形态。
// 频道状态快照丢了最多一个刷盘周期的计数，事件本身靠这份日志回放
type InteractionEvent struct {
	ID           int64  `json:"id"`
	ChannelID    string `json:"channelId"`
	Kind         string `json:"kind"`
	ActorID      int64  `json:"actorId"`
	TargetUserID int64  `json:"targetUserId,omitempty"`
	Payload      string `json:"payload,omitempty"`
	CreatedAt    int64  `json:"createdAt"`
}

func NewInteractionEvent(evt domain.InteractionEvent) InteractionEvent {
	return InteractionEvent{
		ID:           evt.ID,
		ChannelID:    evt.ChannelID,
		Kind:         evt.Kind.String(),
		ActorID:      evt.ActorID,
		TargetUserID: evt.TargetUserID,
		Payload:      evt.Payload,
		CreatedAt:    evt.CreatedAt.UnixMilli(),
	}
}

// PartitionKey 分区键，同一频道的事件落在同一分区
func (e InteractionEvent) PartitionKey() string {
	return e.ChannelID
}
