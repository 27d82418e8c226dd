package main

import (
	"context"
	"os/signal"
	"syscall"

	"gitee.com/flycash/live-interaction/internal/ioc"
	"github.com/gotomicro/ego"
	"github.com/gotomicro/ego/core/elog"
	"github.com/gotomicro/ego/server/egovernor"
)

func main() {
	// 后台任务跟随进程信号退出
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := ego.New().
		// governor 暴露 /metrics 和健康检查
		Serve(egovernor.Load("server.governor").Build()).
		Invoker(func() error {
			app := ioc.InitApp()
			app.StartTasks(ctx)
			return nil
		}).Run()
	if err != nil {
		elog.Panic("startup", elog.Any("err", err))
	}
}
