package dao

import (
	"context"
	"time"

	"github.com/ego-component/egorm"
)

type PushSubscriptionDAO interface {
	Create(ctx context.Context, data PushSubscription) (PushSubscription, error)
	// FindActiveByUser 查询用户全部可用的订阅
	FindActiveByUser(ctx context.Context, userID int64) ([]PushSubscription, error)
	// Deactivate 订阅过期（404/410/令牌失效）之后停用，不再参与投递
	Deactivate(ctx context.Context, id int64) error
	// TouchLastUsed 投递成功之后刷新最近使用时间
	TouchLastUsed(ctx context.Context, id int64) error
}

// PushSubscription 推送订阅表，一个用户可以有多台设备
type PushSubscription struct {
	ID     int64  `gorm:"primaryKey;autoIncrement"`
	UserID int64  `gorm:"type:BIGINT;NOT NULL;index:idx_user_active,priority:1;comment:'订阅归属用户'"`
	Kind   string `gorm:"type:ENUM('WEBPUSH','FCM');NOT NULL;comment:'推送渠道'"`
	// Endpoint WebPush 推送端点或 FCM 设备令牌
	Endpoint   string `gorm:"type:VARCHAR(512);NOT NULL"`
	P256dh     string `gorm:"type:VARCHAR(256);comment:'WebPush 公钥'"`
	Auth       string `gorm:"type:VARCHAR(128);comment:'WebPush 鉴权密钥'"`
	Active     bool   `gorm:"NOT NULL;DEFAULT:true;index:idx_user_active,priority:2"`
	LastUsedAt int64
	Ctime      int64
	Utime      int64
}

func (PushSubscription) TableName() string {
	return "push_subscriptions"
}

type pushSubscriptionDAO struct {
	db *egorm.Component
}

func NewPushSubscriptionDAO(db *egorm.Component) PushSubscriptionDAO {
	return &pushSubscriptionDAO{db: db}
}

func (d *pushSubscriptionDAO) Create(ctx context.Context, data PushSubscription) (PushSubscription, error) {
	now := time.Now().UnixMilli()
	data.Ctime, data.Utime = now, now
	data.Active = true
	err := d.db.WithContext(ctx).Create(&data).Error
	return data, err
}

func (d *pushSubscriptionDAO) FindActiveByUser(ctx context.Context, userID int64) ([]PushSubscription, error) {
	var subs []PushSubscription
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&subs).Error
	return subs, err
}

func (d *pushSubscriptionDAO) Deactivate(ctx context.Context, id int64) error {
	return d.db.WithContext(ctx).Model(&PushSubscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active": false,
			"utime":  time.Now().UnixMilli(),
		}).Error
}

func (d *pushSubscriptionDAO) TouchLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UnixMilli()
	return d.db.WithContext(ctx).Model(&PushSubscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_used_at": now,
			"utime":        now,
		}).Error
}
