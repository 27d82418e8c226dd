package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"gitee.com/flycash/live-interaction/internal/errs"
)

// SendStatus 推送通知状态，只能向前流转：
// PENDING -> SENDING -> DELIVERED / DEAD，SENDING 瞬时失败退回 PENDING 等待重试
type SendStatus string

const (
	SendStatusPending   SendStatus = "PENDING"   // 待投递
	SendStatusSending   SendStatus = "SENDING"   // 已被某个投递者认领
	SendStatusDelivered SendStatus = "DELIVERED" // 投递成功，终态
	SendStatusDead      SendStatus = "DEAD"      // 放弃投递，终态，等待人工排查
)

func (s SendStatus) String() string {
	return string(s)
}

// IsTerminal 终态不允许再被任何任务认领
func (s SendStatus) IsTerminal() bool {
	return s == SendStatusDelivered || s == SendStatusDead
}

// PushPayload 推送给终端的内容
type PushPayload struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	DeeplinkURL string `json:"deeplinkUrl,omitempty"`
}

// PushNotification 一条待推送的通知，离线或被定向提及的用户各得一条
type PushNotification struct {
	ID          uint64
	RecipientID int64
	// EventKey 来源事件的业务唯一标识，和 RecipientID 一起构成幂等键
	EventKey  string
	ChannelID string
	Payload   PushPayload
	Status    SendStatus
	// Attempts 已经执行的投递尝试次数，成功的那一次也计入
	Attempts    int32
	NextRetryAt time.Time
	// Version 乐观锁版本号，认领与状态流转都靠它
	Version int
	Ctime   time.Time
}

func (n *PushNotification) Validate() error {
	if n.RecipientID <= 0 {
		return fmt.Errorf("%w: RecipientID = %d", errs.ErrInvalidParameter, n.RecipientID)
	}
	if n.EventKey == "" {
		return fmt.Errorf("%w: EventKey = %q", errs.ErrInvalidParameter, n.EventKey)
	}
	if err := ValidateChannelID(n.ChannelID); err != nil {
		return err
	}
	if n.Payload.Title == "" && n.Payload.Body == "" {
		return fmt.Errorf("%w: 推送内容为空", errs.ErrInvalidParameter)
	}
	return nil
}

func (n *PushNotification) MarshalPayload() (string, error) {
	jsonBytes, err := json.Marshal(n.Payload)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

func (n *PushNotification) UnmarshalPayload(data string) error {
	return json.Unmarshal([]byte(data), &n.Payload)
}

// SubscriptionKind 推送订阅的渠道类型
type SubscriptionKind string

const (
	SubscriptionKindWebPush SubscriptionKind = "WEBPUSH"
	SubscriptionKindFCM     SubscriptionKind = "FCM"
)

// PushSubscription 一台设备的推送订阅，密钥材料归推送端口所有
type PushSubscription struct {
	ID     int64
	UserID int64
	Kind   SubscriptionKind
	// Endpoint WebPush 的推送端点，或 FCM 的设备令牌
	Endpoint string
	// P256dh / Auth WebPush 的订阅密钥材料，FCM 订阅为空
	P256dh     string
	Auth       string
	Active     bool
	LastUsedAt time.Time
}
