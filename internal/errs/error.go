package errs

import (
	"errors"
)

// 定义统一的错误类型
var (
	ErrInvalidParameter = errors.New("参数错误")
	ErrInvalidChannel   = errors.New("频道ID非法")
	ErrSessionNotFound  = errors.New("会话不存在或已注销")
	ErrChannelNotFound  = errors.New("频道状态不存在")

	ErrNotificationNotFound        = errors.New("通知记录不存在")
	ErrNotificationDuplicate       = errors.New("通知记录幂等键冲突")
	ErrNotificationVersionMismatch = errors.New("通知记录版本不匹配")
	ErrCreateNotificationFailed    = errors.New("创建通知失败")

	ErrSubscriptionNotFound   = errors.New("推送订阅不存在")
	ErrPersistenceUnavailable = errors.New("持久化不可用")
	ErrRateLimited            = errors.New("互动过于频繁")
)
