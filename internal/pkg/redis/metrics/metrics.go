package metrics

import (
	"context"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

var (
	commandCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "live_interaction",
			Name:      "redis_commands_total",
			Help:      "Redis命令执行总数",
		},
		[]string{"command", "status"},
	)

	commandDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  "live_interaction",
			Name:       "redis_command_duration_seconds",
			Help:       "Redis命令执行耗时",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(commandCounter, commandDuration)
}

// Hook go-redis 钩子，为缓存读写和限流脚本记录命令级指标
type Hook struct{}

var _ redis.Hook = (*Hook)(nil)

func NewHook() *Hook {
	return &Hook{}
}

func (h *Hook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *Hook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		status := "ok"
		if err != nil && err != redis.Nil {
			status = "error"
		}
		commandCounter.WithLabelValues(cmd.Name(), status).Inc()
		commandDuration.WithLabelValues(cmd.Name()).Observe(time.Since(start).Seconds())
		return err
	}
}

func (h *Hook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		status := "ok"
		if err != nil && err != redis.Nil {
			status = "error"
		}
		for _, cmd := range cmds {
			commandCounter.WithLabelValues(cmd.Name(), status).Inc()
		}
		commandDuration.WithLabelValues("pipeline").Observe(time.Since(start).Seconds())
		return err
	}
}
