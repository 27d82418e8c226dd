package ioc

import (
	"fmt"

	"gitee.com/flycash/live-interaction/internal/repository/dao"
	"github.com/ego-component/egorm"
	"github.com/gotomicro/ego/core/econf"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB() *egorm.Component {
	type Config struct {
		DSN string `yaml:"dsn"`
	}
	var cfg Config
	if err := econf.UnmarshalKey("mysql", &cfg); err != nil {
		panic(err)
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		panic(fmt.Errorf("数据库连接失败: %w", err))
	}
	return db
}

// InitTables 建表，省去单独的迁移工具
func InitTables(db *egorm.Component) error {
	return db.AutoMigrate(
		&dao.ChannelState{},
		&dao.PushNotification{},
		&dao.PushSubscription{},
	)
}
