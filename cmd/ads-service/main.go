// cmd/ads-service/main.go
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"adengine/internal/pkg/bootstrap"
	"adengine/internal/pkg/config"
	"adengine/internal/pkg/database"
	"adengine/internal/pkg/httpclient"
	"adengine/internal/pkg/keylock"
	"adengine/internal/pkg/logger"
	"adengine/internal/pkg/metrics"
	"adengine/internal/pkg/mq"
	pkgredis "adengine/internal/pkg/redis"
	"adengine/internal/service/ads/application"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
	"adengine/internal/service/ads/infrastructure"
	"adengine/internal/service/ads/infrastructure/adapter"
	"adengine/internal/service/ads/infrastructure/memory"
	"adengine/internal/service/ads/infrastructure/rule"
	"adengine/internal/service/ads/interfaces"
	"adengine/internal/zookeeper"
)

const catalogServiceName = "catalog-service"

func main() {
	cfg, err := config.Load(getEnv("ADENGINE_CONFIG", "configs/adengine.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(cfg.Service.Name, cfg.Service.LogLevel, os.Stdout)

	bootstrap.StartService(bootstrap.AppInfo{
		Config: cfg,
		Setup: func(ctx context.Context, appCtx bootstrap.AppCtx) (func(context.Context), error) {
			return setup(ctx, cfg, appCtx)
		},
	})
}

// stores 聚合所选存储后端实现的各个仓储接口
type stores struct {
	ads      domain.AdRepository
	wallets  domain.WalletLedger
	clicks   domain.ClickLogRepository
	recorder domain.ChargeRecorder
}

func setup(ctx context.Context, cfg *config.Config, appCtx bootstrap.AppCtx) (func(context.Context), error) {
	var closers []func(context.Context)
	cleanup := func(ctx context.Context) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i](ctx)
		}
	}
	fail := func(err error) (func(context.Context), error) {
		cleanup(context.Background())
		return nil, err
	}

	tracer := otel.Tracer(cfg.Service.Name)
	m := metrics.New(appCtx.Registry)
	calendar := application.SystemCalendar(cfg.Location())

	// 1. 存储
	st, err := newStores(cfg)
	if err != nil {
		return fail(err)
	}

	// 2. 串行化
	var locker port.KeyLocker = keylock.New()
	if cfg.Billing.LockBackend == config.LockZookeeper {
		conn, err := zookeeper.Connect(cfg.Zookeeper.Servers, cfg.Zookeeper.SessionTimeout)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) { conn.Close() })
		zkLocker, err := zookeeper.NewLocker(conn, cfg.Billing.LockTimeout)
		if err != nil {
			return fail(err)
		}
		locker = zkLocker
		log.Info().Strs("servers", cfg.Zookeeper.Servers).Msg("✅ using zookeeper locks for billing")
	}

	// 3. 点击窗口
	var history port.ClickHistory = adapter.NewClickLogHistoryAdapter(st.clicks)
	if cfg.Fraud.UseRedis {
		rc, err := pkgredis.NewClient(cfg.Redis.Addrs, cfg.Redis.Password)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) { _ = rc.Close() })
		if err := rc.Ping(ctx); err != nil {
			return fail(err)
		}
		redisHistory, err := adapter.NewClickHistoryRedisAdapter(rc, cfg.Fraud.Window, cfg.Location())
		if err != nil {
			return fail(err)
		}
		// Redis 索引写失败时退回点击日志
		history = adapter.NewFallbackClickHistory(redisHistory, history)
	}

	// 4. 事件：WebSocket 推送，启用 Kafka 时同时发往事件主题
	hub := interfaces.NewStatusHub()
	go hub.Run(ctx)
	var publisher port.EventPublisher = hub
	if cfg.Kafka.Enabled {
		writer := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
		kafkaPublisher := adapter.NewBillingEventKafkaAdapter(writer)
		closers = append(closers, func(context.Context) { _ = kafkaPublisher.Close() })
		publisher = adapter.NewFanoutPublisher(hub, kafkaPublisher)
	}

	// 5. 商品目录与查询匹配
	catalog, err := newCatalog(cfg, appCtx)
	if err != nil {
		return fail(err)
	}
	var matcher port.QueryMatcher
	if cfg.Matcher.CELExpression != "" {
		celMatcher, err := rule.NewCELQueryMatcher(cfg.Matcher.CELExpression)
		if err != nil {
			return fail(err)
		}
		matcher = celMatcher
	}

	// 6. 应用服务
	policy := domain.FraudPolicy{
		Window:            cfg.Fraud.Window,
		ScorePerRepeat:    cfg.Fraud.ScorePerRepeat,
		MaxAdsPerIPPerDay: cfg.Fraud.MaxAdsPerIPPerDay,
		BlockScore:        cfg.Fraud.BlockScore,
	}
	fraudSvc := application.NewFraudService(history, policy, calendar, tracer, m)
	billingSvc := application.NewBillingService(st.ads, st.wallets, st.recorder, history, fraudSvc, locker, publisher, calendar, tracer, m).
		WithLockTimeout(cfg.Billing.LockTimeout)
	lifecycleSvc := application.NewLifecycleService(st.ads, st.wallets, st.clicks, locker, publisher, calendar, tracer).
		WithLockTimeout(cfg.Billing.LockTimeout)
	placementSvc := application.NewPlacementService(st.ads, catalog, matcher, application.PlacementOptions{
		Policy:        domain.RankingPolicy{Weight: cfg.Ranking.Weight, TieEpsilon: cfg.Ranking.TieEpsilon},
		CandidatePool: cfg.Ranking.CandidatePool,
		TimeBucket:    cfg.Ranking.TimeBucket,
	}, calendar, tracer, m)

	// 7. 驱动适配器
	interfaces.NewAdsHandler(billingSvc, placementSvc, lifecycleSvc).RegisterRoutes(appCtx.Mux)
	hub.RegisterRoutes(appCtx.Mux)

	sweeper := interfaces.NewExpirySweeper(lifecycleSvc, cfg.Sweeper.Interval)
	sweeper.Start(ctx)
	closers = append(closers, func(context.Context) { sweeper.Stop() })

	if cfg.Kafka.Enabled {
		reader := mq.NewKafkaReader(cfg.Kafka.Brokers, cfg.Kafka.TopUpTopic, cfg.Kafka.ConsumerGroup)
		consumer := interfaces.NewWalletTopUpConsumer(reader, lifecycleSvc)
		consumer.Start(ctx)
		closers = append(closers, consumer.Stop)
	}

	log.Info().Str("storage", cfg.Storage.Backend).Str("lock", cfg.Billing.LockBackend).
		Bool("kafka", cfg.Kafka.Enabled).Bool("redis_fraud", cfg.Fraud.UseRedis).Msg("✅ ads service wired")
	return cleanup, nil
}

func newStores(cfg *config.Config) (*stores, error) {
	if cfg.Storage.Backend != config.StorageMySQL {
		log.Warn().Msg("⚠️ using in-memory storage, data is lost on restart")
		s := memory.NewStore()
		return &stores{ads: s, wallets: s, clicks: s, recorder: s}, nil
	}
	db, err := database.NewGormDB(cfg.Storage.MySQL)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.AutoMigrate {
		if err := db.AutoMigrate(infrastructure.AllModels()...); err != nil {
			return nil, err
		}
	}
	return &stores{
		ads:      infrastructure.NewGormAdRepository(db),
		wallets:  infrastructure.NewGormWalletLedger(db),
		clicks:   infrastructure.NewGormClickLog(db),
		recorder: infrastructure.NewGormChargeRecorder(db),
	}, nil
}

// newCatalog 优先使用配置的地址，其次通过 Nacos 发现目录服务，都没有时退回内存目录
func newCatalog(cfg *config.Config, appCtx bootstrap.AppCtx) (port.ProductCatalog, error) {
	baseURL := cfg.Catalog.BaseURL
	if baseURL == "" && appCtx.Nacos != nil {
		u, err := appCtx.Nacos.DiscoverServiceURL(catalogServiceName)
		if err != nil {
			return nil, err
		}
		baseURL = u
	}
	if baseURL == "" {
		log.Warn().Msg("⚠️ no catalog service configured, using empty in-memory catalog")
		return memory.NewCatalog(), nil
	}
	client := httpclient.NewClient(otel.Tracer("catalog-client"), cfg.Catalog.Timeout)
	return adapter.NewCatalogHTTPAdapter(client, baseURL), nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
