package broadcast

import (
	"gitee.com/flycash/live-interaction/internal/domain"
)

// FrameKind 下行帧类型
type FrameKind string

const (
	// FrameKindEvent 单个互动事件
	FrameKindEvent FrameKind = "EVENT"
	// FrameKindResync 压缩标记：消费者落后太多丢过帧，
	// 收到之后应当通过回放接口重新对齐
	FrameKindResync FrameKind = "RESYNC"
	// FrameKindViewerCount 观众数播报
	FrameKindViewerCount FrameKind = "VIEWER_COUNT"
)

// Frame 推给单个会话的下行帧
type Frame struct {
	Kind      FrameKind
	ChannelID string
	// Event 仅 EVENT 帧有效
	Event domain.InteractionEvent
	// ViewerCount 仅 VIEWER_COUNT 帧有效
	ViewerCount int
}

func eventFrame(event domain.InteractionEvent) Frame {
	return Frame{Kind: FrameKindEvent, ChannelID: event.ChannelID, Event: event}
}

func resyncFrame(channelID string) Frame {
	return Frame{Kind: FrameKindResync, ChannelID: channelID}
}

func viewerCountFrame(channelID string, count int) Frame {
	return Frame{Kind: FrameKindViewerCount, ChannelID: channelID, ViewerCount: count}
}
