package client

import (
	"context"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

var _ Client = (*WebPush)(nil)

// WebPush 标准 Web Push 协议实现，aes128gcm 加密由库完成
type WebPush struct {
	subscriber      string
	vapidPublicKey  string
	vapidPrivateKey string
}

func NewWebPush(subscriber, vapidPublicKey, vapidPrivateKey string) *WebPush {
	return &WebPush{
		subscriber:      subscriber,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
	}
}

func (w *WebPush) Send(ctx context.Context, req SendReq) (SendResp, error) {
	sub := &webpush.Subscription{
		Endpoint: req.Subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: req.Subscription.P256dh,
			Auth:   req.Subscription.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, req.Payload, sub, &webpush.Options{
		Subscriber:      w.subscriber,
		VAPIDPublicKey:  w.vapidPublicKey,
		VAPIDPrivateKey: w.vapidPrivateKey,
		TTL:             req.TTLSeconds,
	})
	if err != nil {
		// 网络层面的失败都按瞬时算
		return SendResp{}, fmt.Errorf("%w: %w", ErrTransientFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	res := SendResp{StatusCode: resp.StatusCode}
	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return res, nil
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		// 404/410 订阅已经失效，重试没有意义
		return res, fmt.Errorf("%w: 订阅已过期, status=%d", ErrPermanentFailure, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		return res, fmt.Errorf("%w: status=%d", ErrTransientFailure, resp.StatusCode)
	default:
		return res, fmt.Errorf("%w: status=%d", ErrPermanentFailure, resp.StatusCode)
	}
}
