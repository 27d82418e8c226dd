package domain

import (
	"fmt"
	"time"
)

// Session 一个观众到一个频道的活跃连接，归会话注册表独占
type Session struct {
	ID        string
	ChannelID string
	// UserID 登录用户ID，0 表示匿名观众
	UserID       int64
	ConnectedAt  time.Time
	LastActiveAt time.Time
}

// ViewerKey 观众去重标识：登录用户按用户算，匿名按会话算。
// 同一用户开多个标签页只计一个观众。
func (s Session) ViewerKey() string {
	if s.UserID > 0 {
		return fmt.Sprintf("user:%d", s.UserID)
	}
	return fmt.Sprintf("client:%s", s.ID)
}
