package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 对外暴露的监控指标：频道观众数、通知积压、投递结果、压缩信号
var (
	ChannelViewers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "live_interaction",
		Name:      "channel_viewers",
		Help:      "去重后的频道观众数",
	}, []string{"channel"})

	NotificationQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "live_interaction",
		Name:      "notification_queue_depth",
		Help:      "待投递通知积压数",
	})

	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "live_interaction",
		Name:      "dispatch_total",
		Help:      "通知投递结果计数",
	}, []string{"result"})

	DeadNotificationTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "live_interaction",
		Name:      "dead_notification_total",
		Help:      "进入DEAD终态的通知数",
	})

	BroadcastCompactionTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "live_interaction",
		Name:      "broadcast_compaction_total",
		Help:      "慢消费者触发的压缩标记数",
	})
)

// 投递结果标签值
const (
	DispatchResultDelivered = "delivered"
	DispatchResultRetry     = "retry"
	DispatchResultDead      = "dead"
)

func init() {
	prometheus.MustRegister(
		ChannelViewers,
		NotificationQueueDepth,
		DispatchTotal,
		DeadNotificationTotal,
		BroadcastCompactionTotal,
	)
}
