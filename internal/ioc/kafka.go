package ioc

import (
	"gitee.com/flycash/live-interaction/internal/event"
	"github.com/gotomicro/ego/core/econf"
)

func InitEventProducer() event.Producer {
	type Config struct {
		Addr string
	}
	var cfg Config
	if err := econf.UnmarshalKey("kafka", &cfg); err != nil {
		panic(err)
	}
	producer, err := event.NewKafkaProducer(cfg.Addr)
	if err != nil {
		panic(err)
	}
	return producer
}
