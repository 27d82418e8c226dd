package ioc

import (
	redismetrics "gitee.com/flycash/live-interaction/internal/pkg/redis/metrics"
	"github.com/gotomicro/ego/core/econf"
	"github.com/meoying/dlock-go"
	dlockRedis "github.com/meoying/dlock-go/redis"
	"github.com/redis/go-redis/v9"
)

func InitRedisClient() *redis.Client {
	type Config struct {
		Addr string
	}
	var cfg Config
	err := econf.UnmarshalKey("redis", &cfg)
	if err != nil {
		panic(err)
	}
	cmd := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	cmd.AddHook(redismetrics.NewHook())
	return cmd
}

func InitDistributedLock(redisClient redis.Cmdable) dlock.Client {
	return dlockRedis.NewClient(redisClient)
}
