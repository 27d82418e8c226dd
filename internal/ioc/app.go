package ioc

import (
	"context"
	"time"

	"gitee.com/flycash/live-interaction/internal/domain"
	"gitee.com/flycash/live-interaction/internal/pkg/ratelimit"
	"gitee.com/flycash/live-interaction/internal/pkg/retry"
	"gitee.com/flycash/live-interaction/internal/repository"
	"gitee.com/flycash/live-interaction/internal/repository/cache/local"
	cacheredis "gitee.com/flycash/live-interaction/internal/repository/cache/redis"
	"gitee.com/flycash/live-interaction/internal/repository/dao"
	"gitee.com/flycash/live-interaction/internal/service/aggregator"
	"gitee.com/flycash/live-interaction/internal/service/broadcast"
	"gitee.com/flycash/live-interaction/internal/service/dispatcher"
	"gitee.com/flycash/live-interaction/internal/service/interaction"
	"gitee.com/flycash/live-interaction/internal/service/push"
	pushclient "gitee.com/flycash/live-interaction/internal/service/push/client"
	"gitee.com/flycash/live-interaction/internal/service/registry"
	"github.com/gotomicro/ego/core/econf"
	"github.com/gotomicro/ego/core/elog"
)

type App struct {
	Svc   interaction.Service
	Tasks []Task
}

func (a *App) StartTasks(ctx context.Context) {
	for _, t := range a.Tasks {
		go func(t Task) {
			t.Start(ctx)
		}(t)
	}
}

// Config 各组件的可调参数，零值走组件默认值
type Config struct {
	Registry struct {
		HeartbeatTimeout time.Duration `yaml:"heartbeatTimeout"`
		SweepInterval    time.Duration `yaml:"sweepInterval"`
	} `yaml:"registry"`
	Aggregator struct {
		RingCapacity   int           `yaml:"ringCapacity"`
		DirtyThreshold int           `yaml:"dirtyThreshold"`
		EvictionGrace  time.Duration `yaml:"evictionGrace"`
		FlushInterval  time.Duration `yaml:"flushInterval"`
		EvictInterval  time.Duration `yaml:"evictInterval"`
	} `yaml:"aggregator"`
	Broadcast struct {
		OutboxCapacity      int           `yaml:"outboxCapacity"`
		ViewerCountInterval time.Duration `yaml:"viewerCountInterval"`
	} `yaml:"broadcast"`
	Dispatcher struct {
		BatchSize       int           `yaml:"batchSize"`
		Concurrency     int           `yaml:"concurrency"`
		IdleSleep       time.Duration `yaml:"idleSleep"`
		StaleAfter      time.Duration `yaml:"staleAfter"`
		RequeueInterval time.Duration `yaml:"requeueInterval"`
		Retry           retry.Config  `yaml:"retry"`
	} `yaml:"dispatcher"`
	RateLimit struct {
		Interval time.Duration `yaml:"interval"`
		Rate     int           `yaml:"rate"`
	} `yaml:"ratelimit"`
	Push struct {
		WebPush struct {
			Subscriber      string `yaml:"subscriber"`
			VAPIDPublicKey  string `yaml:"vapidPublicKey"`
			VAPIDPrivateKey string `yaml:"vapidPrivateKey"`
		} `yaml:"webpush"`
		FCM struct {
			CredentialsFile string `yaml:"credentialsFile"`
		} `yaml:"fcm"`
	} `yaml:"push"`
}

func loadConfig() Config {
	var cfg Config
	if err := econf.UnmarshalKey("app", &cfg); err != nil {
		panic(err)
	}
	return cfg
}

func InitApp() *App {
	cfg := loadConfig()

	db := InitDB()
	if err := InitTables(db); err != nil {
		panic(err)
	}
	rdb := InitRedisClient()
	dclient := InitDistributedLock(rdb)
	idGen := InitIDGenerator()
	producer := InitEventProducer()

	channelRepo := repository.NewChannelStateRepository(
		dao.NewChannelStateDAO(db),
		local.NewCache(InitGoCache()),
		cacheredis.NewCache(rdb),
	)
	notifRepo := repository.NewPushNotificationRepository(dao.NewPushNotificationDAO(db))
	subRepo := repository.NewPushSubscriptionRepository(dao.NewPushSubscriptionDAO(db))

	var regOpts []registry.Option
	if cfg.Registry.HeartbeatTimeout > 0 {
		regOpts = append(regOpts, registry.WithHeartbeatTimeout(cfg.Registry.HeartbeatTimeout))
	}
	reg := registry.NewSessionRegistry(regOpts...)

	var aggOpts []aggregator.Option
	if cfg.Aggregator.RingCapacity > 0 {
		aggOpts = append(aggOpts, aggregator.WithRingCapacity(cfg.Aggregator.RingCapacity))
	}
	if cfg.Aggregator.DirtyThreshold > 0 {
		aggOpts = append(aggOpts, aggregator.WithDirtyThreshold(cfg.Aggregator.DirtyThreshold))
	}
	if cfg.Aggregator.EvictionGrace > 0 {
		aggOpts = append(aggOpts, aggregator.WithEvictionGrace(cfg.Aggregator.EvictionGrace))
	}
	agg := aggregator.NewChannelAggregator(channelRepo, reg.HasViewer, aggOpts...)

	var routerOpts []broadcast.Option
	if cfg.Broadcast.OutboxCapacity > 0 {
		routerOpts = append(routerOpts, broadcast.WithOutboxCapacity(cfg.Broadcast.OutboxCapacity))
	}
	router := broadcast.NewRouter(routerOpts...)

	var svcOpts []interaction.Option
	if cfg.RateLimit.Rate > 0 {
		svcOpts = append(svcOpts, interaction.WithRateLimiter(
			ratelimit.NewRedisSlidingWindowLimiter(rdb, cfg.RateLimit.Interval, cfg.RateLimit.Rate)))
	}
	svc := interaction.NewService(reg, agg, router, notifRepo, subRepo, producer, idGen, svcOpts...)

	strategy, err := retry.NewRetry(cfg.Dispatcher.Retry)
	if err != nil {
		panic(err)
	}
	pusher := push.NewPusher(subRepo, initPushClients(cfg))
	disp := dispatcher.NewObservabilityDispatcher(dispatcher.NewDispatcher(
		notifRepo, pusher, strategy,
		dispatcher.WithBatchSize(cfg.Dispatcher.BatchSize),
		dispatcher.WithConcurrency(cfg.Dispatcher.Concurrency),
	))

	sweepTask := registry.NewSweepTask(reg, cfg.Registry.SweepInterval, svc.OnSessionEvicted)
	flushTask := aggregator.NewFlushTask(agg, cfg.Aggregator.FlushInterval, cfg.Aggregator.EvictInterval)
	viewerTask := broadcast.NewViewerCountTask(reg, router, cfg.Broadcast.ViewerCountInterval,
		func(ctx context.Context, channelID string, count int) {
			if err := agg.SetViewerCount(ctx, channelID, count); err != nil {
				elog.DefaultLogger.Warn("同步观众数失败", elog.String("channel", channelID), elog.FieldErr(err))
			}
		})
	drainLoop := dispatcher.NewDrainLoop(dclient, disp, cfg.Dispatcher.BatchSize, cfg.Dispatcher.IdleSleep)
	requeueTask := dispatcher.NewRequeueStaleTask(dclient, notifRepo,
		cfg.Dispatcher.StaleAfter, cfg.Dispatcher.RequeueInterval, maxRetries(cfg.Dispatcher.Retry))

	return &App{
		Svc:   svc,
		Tasks: InitTasks(sweepTask, flushTask, viewerTask, drainLoop, requeueTask),
	}
}

func initPushClients(cfg Config) map[domain.SubscriptionKind]pushclient.Client {
	clients := make(map[domain.SubscriptionKind]pushclient.Client)
	wp := cfg.Push.WebPush
	if wp.VAPIDPrivateKey != "" {
		clients[domain.SubscriptionKindWebPush] = pushclient.NewWebPush(
			wp.Subscriber, wp.VAPIDPublicKey, wp.VAPIDPrivateKey)
	}
	if cfg.Push.FCM.CredentialsFile != "" {
		fcm, err := pushclient.NewFCM(context.Background(), cfg.Push.FCM.CredentialsFile)
		if err != nil {
			panic(err)
		}
		clients[domain.SubscriptionKindFCM] = fcm
	}
	return clients
}

func maxRetries(cfg retry.Config) int32 {
	switch cfg.Type {
	case "fixed":
		return cfg.FixedInterval.MaxRetries
	case "exponential":
		return cfg.ExponentialBackoff.MaxRetries
	default:
		return 0
	}
}
