package client

import (
	"context"
	"encoding/json"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"gitee.com/flycash/live-interaction/internal/domain"
	"google.golang.org/api/option"
)

var _ Client = (*FCM)(nil)

// FCM Firebase Cloud Messaging 实现，订阅的 Endpoint 存的是设备令牌
type FCM struct {
	client *messaging.Client
}

func NewFCM(ctx context.Context, credentialsPath string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("初始化firebase应用失败: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化FCM客户端失败: %w", err)
	}
	return &FCM{client: client}, nil
}

func (f *FCM) Send(ctx context.Context, req SendReq) (SendResp, error) {
	var payload domain.PushPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return SendResp{}, fmt.Errorf("%w: 载荷解析失败: %w", ErrPermanentFailure, err)
	}

	msg := &messaging.Message{
		Token: req.Subscription.Endpoint,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
	}
	if payload.DeeplinkURL != "" {
		msg.Data = map[string]string{"deeplinkUrl": payload.DeeplinkURL}
	}

	_, err := f.client.Send(ctx, msg)
	if err == nil {
		return SendResp{}, nil
	}
	switch {
	case messaging.IsUnregistered(err), messaging.IsInvalidArgument(err):
		// 令牌已经失效
		return SendResp{}, fmt.Errorf("%w: %w", ErrPermanentFailure, err)
	case messaging.IsUnavailable(err), messaging.IsInternal(err), messaging.IsQuotaExceeded(err):
		return SendResp{}, fmt.Errorf("%w: %w", ErrTransientFailure, err)
	default:
		return SendResp{}, fmt.Errorf("%w: %w", ErrTransientFailure, err)
	}
}
