package ioc

import (
	"github.com/sony/sonyflake"
)

func InitIDGenerator() *sonyflake.Sonyflake {
	idGen := sonyflake.NewSonyflake(sonyflake.Settings{})
	if idGen == nil {
		panic("初始化雪花ID生成器失败")
	}
	return idGen
}
