package client

import (
	"context"
	"errors"

	"gitee.com/flycash/live-interaction/internal/domain"
)

// 投递失败按性质分类：瞬时失败走退避重试，永久失败直接进死信
var (
	ErrTransientFailure = errors.New("推送瞬时失败")
	ErrPermanentFailure = errors.New("推送永久失败")
)

// SendReq 一次推送请求。Payload 是明文，
// 加密和线上协议全部由具体渠道的实现负责
type SendReq struct {
	Subscription domain.PushSubscription
	Payload      []byte
	// TTLSeconds 推送服务端的消息保留时长
	TTLSeconds int
}

type SendResp struct {
	// StatusCode 渠道返回的原始状态码，仅用于日志排查
	StatusCode int
}

// Client 推送渠道客户端。密钥管理和载荷加密是渠道的事，核心不碰
type Client interface {
	Send(ctx context.Context, req SendReq) (SendResp, error)
}
