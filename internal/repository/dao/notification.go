package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/errs"
	"github.com/ego-component/egorm"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type PushNotificationDAO interface {
	// Create 创建通知记录。幂等键 (recipient_id, event_key) 冲突时
	// 返回 errs.ErrNotificationDuplicate，由上层合并进已有记录
	Create(ctx context.Context, data PushNotification) (PushNotification, error)

	// GetByID 根据ID查询通知
	GetByID(ctx context.Context, id uint64) (PushNotification, error)
	// GetByRecipientAndKey 根据幂等键查询通知
	GetByRecipientAndKey(ctx context.Context, recipientID int64, eventKey string) (PushNotification, error)

	// FindDue 查询到期的 PENDING 通知，按创建顺序返回，保证同一接收者内有序
	FindDue(ctx context.Context, now time.Time, limit int) ([]PushNotification, error)

	// CASClaimSending 把 PENDING 记录认领为 SENDING。
	// 版本不匹配说明被别的投递者抢走了，返回 errs.ErrNotificationVersionMismatch
	CASClaimSending(ctx context.Context, id uint64, version int) error

	// MarkDelivered 投递成功，终态。attempts 记录的是包含本次在内的总尝试次数
	MarkDelivered(ctx context.Context, id uint64, attempts int32) error
	// MarkRetryLater 瞬时失败，记一次尝试并回到 PENDING 等待下次认领
	MarkRetryLater(ctx context.Context, id uint64, attempts int32, nextRetryAt time.Time) error
	// MarkDead 放弃投递，终态
	MarkDead(ctx context.Context, id uint64, attempts int32) error

	// RequeueStaleSending 把停留在 SENDING 超时的记录视为失败一次重新入队，
	// 用于崩溃重启之后的恢复。返回处理的行数
	RequeueStaleSending(ctx context.Context, before time.Time, maxAttempts int32, batchSize int) (int64, error)

	// CountBacklog 统计 PENDING 积压量，供监控采样
	CountBacklog(ctx context.Context) (int64, error)
}

// PushNotification 推送通知表
type PushNotification struct {
	ID          uint64 `gorm:"primaryKey;comment:'雪花算法ID'"`
	RecipientID int64  `gorm:"type:BIGINT;NOT NULL;uniqueIndex:idx_recipient_event,priority:1;comment:'接收者用户ID'"`
	EventKey    string `gorm:"type:VARCHAR(128);NOT NULL;uniqueIndex:idx_recipient_event,priority:2;comment:'来源事件标识，幂等键的一半'"`
	ChannelID   string `gorm:"type:VARCHAR(64);NOT NULL;comment:'来源频道'"`
	Payload     string `gorm:"type:TEXT;NOT NULL;comment:'推送内容，JSON'"`
	Status      string `gorm:"type:ENUM('PENDING','SENDING','DELIVERED','DEAD');DEFAULT:'PENDING';index:idx_status_retry,priority:1;comment:'投递状态'"`
	Attempts    int32  `gorm:"type:INT;NOT NULL;DEFAULT:0;comment:'已执行的投递尝试次数'"`
	NextRetryAt int64  `gorm:"index:idx_status_retry,priority:2;comment:'下次可投递时间，毫秒'"`
	Version     int    `gorm:"type:INT;NOT NULL;DEFAULT:1;comment:'版本号，用于CAS操作'"`
	Ctime       int64
	Utime       int64
}

func (PushNotification) TableName() string {
	return "push_notifications"
}

type pushNotificationDAO struct {
	db *egorm.Component
}

func NewPushNotificationDAO(db *egorm.Component) PushNotificationDAO {
	return &pushNotificationDAO{db: db}
}

func (d *pushNotificationDAO) Create(ctx context.Context, data PushNotification) (PushNotification, error) {
	now := time.Now().UnixMilli()
	data.Ctime, data.Utime = now, now
	data.Version = 1
	if err := d.db.WithContext(ctx).Create(&data).Error; err != nil {
		if isUniqueConstraintError(err) {
			return PushNotification{}, fmt.Errorf("%w", errs.ErrNotificationDuplicate)
		}
		return PushNotification{}, fmt.Errorf("%w: %w", errs.ErrCreateNotificationFailed, err)
	}
	return data, nil
}

// isUniqueConstraintError 检查是否是唯一索引冲突错误
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	me := new(mysql.MySQLError)
	if ok := errors.As(err, &me); ok {
		const uniqueIndexErrNo uint16 = 1062
		return me.Number == uniqueIndexErrNo
	}
	return false
}

func (d *pushNotificationDAO) GetByID(ctx context.Context, id uint64) (PushNotification, error) {
	var notification PushNotification
	err := d.db.WithContext(ctx).First(&notification, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PushNotification{}, fmt.Errorf("%w: id=%d", errs.ErrNotificationNotFound, id)
		}
		return PushNotification{}, err
	}
	return notification, nil
}

func (d *pushNotificationDAO) GetByRecipientAndKey(ctx context.Context, recipientID int64, eventKey string) (PushNotification, error) {
	var notification PushNotification
	err := d.db.WithContext(ctx).
		Where("recipient_id = ? AND event_key = ?", recipientID, eventKey).
		First(&notification).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PushNotification{}, fmt.Errorf("%w: recipient=%d key=%s", errs.ErrNotificationNotFound, recipientID, eventKey)
		}
		return PushNotification{}, err
	}
	return notification, nil
}

func (d *pushNotificationDAO) FindDue(ctx context.Context, now time.Time, limit int) ([]PushNotification, error) {
	var res []PushNotification
	err := d.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.SendStatusPending.String(), now.UnixMilli()).
		Order("id ASC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (d *pushNotificationDAO) CASClaimSending(ctx context.Context, id uint64, version int) error {
	result := d.db.WithContext(ctx).Model(&PushNotification{}).
		Where("id = ? AND version = ? AND status = ?", id, version, domain.SendStatusPending.String()).
		Updates(map[string]any{
			"status":  domain.SendStatusSending.String(),
			"version": gorm.Expr("version + 1"),
			"utime":   time.Now().UnixMilli(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected < 1 {
		return fmt.Errorf("%w: id=%d", errs.ErrNotificationVersionMismatch, id)
	}
	return nil
}

func (d *pushNotificationDAO) MarkDelivered(ctx context.Context, id uint64, attempts int32) error {
	return d.updateSending(ctx, id, map[string]any{
		"status":   domain.SendStatusDelivered.String(),
		"attempts": attempts,
	})
}

func (d *pushNotificationDAO) MarkRetryLater(ctx context.Context, id uint64, attempts int32, nextRetryAt time.Time) error {
	return d.updateSending(ctx, id, map[string]any{
		"status":        domain.SendStatusPending.String(),
		"attempts":      attempts,
		"next_retry_at": nextRetryAt.UnixMilli(),
	})
}

func (d *pushNotificationDAO) MarkDead(ctx context.Context, id uint64, attempts int32) error {
	return d.updateSending(ctx, id, map[string]any{
		"status":   domain.SendStatusDead.String(),
		"attempts": attempts,
	})
}

// updateSending 状态只能从 SENDING 向前走，终态不会被覆盖
func (d *pushNotificationDAO) updateSending(ctx context.Context, id uint64, updates map[string]any) error {
	updates["version"] = gorm.Expr("version + 1")
	updates["utime"] = time.Now().UnixMilli()
	result := d.db.WithContext(ctx).Model(&PushNotification{}).
		Where("id = ? AND status = ?", id, domain.SendStatusSending.String()).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected < 1 {
		return fmt.Errorf("%w: id=%d", errs.ErrNotificationVersionMismatch, id)
	}
	return nil
}

func (d *pushNotificationDAO) RequeueStaleSending(ctx context.Context, before time.Time, maxAttempts int32, batchSize int) (int64, error) {
	now := time.Now().UnixMilli()
	var total int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		err := tx.Model(&PushNotification{}).
			Select("id").
			Where("status = ? AND utime <= ?", domain.SendStatusSending.String(), before.UnixMilli()).
			Limit(batchSize).
			Find(&ids).Error
		if err != nil || len(ids) == 0 {
			return err
		}

		// 还有重试余量的算失败一次，立刻重新排队
		res := tx.Model(&PushNotification{}).
			Where("id IN ? AND attempts + 1 < ?", ids, maxAttempts).
			Updates(map[string]any{
				"status":        domain.SendStatusPending.String(),
				"attempts":      gorm.Expr("attempts + 1"),
				"next_retry_at": now,
				"version":       gorm.Expr("version + 1"),
				"utime":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected

		// 余量耗尽的直接进死信
		res = tx.Model(&PushNotification{}).
			Where("id IN ? AND attempts + 1 >= ?", ids, maxAttempts).
			Updates(map[string]any{
				"status":   domain.SendStatusDead.String(),
				"attempts": gorm.Expr("attempts + 1"),
				"version":  gorm.Expr("version + 1"),
				"utime":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	})
	return total, err
}

func (d *pushNotificationDAO) CountBacklog(ctx context.Context) (int64, error) {
	var cnt int64
	err := d.db.WithContext(ctx).Model(&PushNotification{}).
		Where("status = ?", domain.SendStatusPending.String()).
		Count(&cnt).Error
	return cnt, err
}
