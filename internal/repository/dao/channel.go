package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitee.com/flycash/live-interaction/internal/errs"
	"github.com/ego-component/egorm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChannelStateDAO interface {
	// GetByID 读取频道的最近一次落库快照
	GetByID(ctx context.Context, id string) (ChannelState, error)
	// Upsert 写回快照，覆盖旧值
	Upsert(ctx context.Context, state ChannelState) error
}

// ChannelState 频道状态快照表，write-behind 的落点
type ChannelState struct {
	ID          string `gorm:"primaryKey;type:VARCHAR(64);comment:'频道ID'"`
	ViewerCount int    `gorm:"type:INT;NOT NULL;DEFAULT:0;comment:'去重观众数'"`
	Version     int64  `gorm:"type:BIGINT;NOT NULL;DEFAULT:0;comment:'状态版本号，单调递增'"`
	LastEventID int64  `gorm:"type:BIGINT;NOT NULL;DEFAULT:0;comment:'频道内已分配的最大事件ID'"`
	// RecentEvents 最近事件环快照，JSON数组
	RecentEvents string `gorm:"type:TEXT"`
	Ctime        int64
	Utime        int64
}

func (ChannelState) TableName() string {
	return "channel_states"
}

type channelStateDAO struct {
	db *egorm.Component
}

func NewChannelStateDAO(db *egorm.Component) ChannelStateDAO {
	return &channelStateDAO{db: db}
}

func (d *channelStateDAO) GetByID(ctx context.Context, id string) (ChannelState, error) {
	var state ChannelState
	err := d.db.WithContext(ctx).First(&state, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ChannelState{}, fmt.Errorf("%w: id=%s", errs.ErrChannelNotFound, id)
		}
		return ChannelState{}, err
	}
	return state, nil
}

func (d *channelStateDAO) Upsert(ctx context.Context, state ChannelState) error {
	now := time.Now().UnixMilli()
	state.Ctime, state.Utime = now, now
	// 每个频道同一时刻只有一个刷盘者，直接覆盖即可
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"viewer_count":  state.ViewerCount,
			"version":       state.Version,
			"last_event_id": state.LastEventID,
			"recent_events": state.RecentEvents,
			"utime":         now,
		}),
	}).Create(&state).Error
}
