package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"taskrouter/api"
	"taskrouter/internal/ai"
	"taskrouter/internal/cache"
	"taskrouter/internal/config"
	"taskrouter/internal/health"
	"taskrouter/internal/infra"
	"taskrouter/internal/logger"
	"taskrouter/internal/middleware"
	"taskrouter/internal/models"
	"taskrouter/internal/router"
	"taskrouter/internal/tasks"
	"taskrouter/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application 进程内组件集合
type application struct {
	deps    api.Dependencies
	factory *ai.ClientFactory
	monitor *ai.PerformanceMonitor
	cache   *cache.MemoryStore
	dbSink  *telemetry.DBSink
	limiter *middleware.RateLimiter
}

// Close 释放组件资源
func (a *application) Close() {
	if a.dbSink != nil {
		a.dbSink.Flush()
	}
	if a.factory != nil {
		a.factory.Close()
	}
	if a.monitor != nil {
		a.monitor.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
}

// buildApp 按配置组装存储、健康追踪、执行器、遥测与路由器
func buildApp(cfg *config.Config) (*application, error) {
	app := &application{}

	var db *gorm.DB
	var probes []api.ReadinessProbe
	if cfg.Database.Enabled {
		var err error
		if db, err = infra.InitDatabase(&cfg.Database); err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := infra.AutoMigrate(db, &models.UsageCounter{}, &telemetry.InvocationLog{}); err != nil {
				return nil, err
			}
		}
		probes = append(probes, api.ReadinessProbe{Name: "database", Check: func(context.Context) error { return infra.HealthCheck() }})
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Enabled {
		var err error
		if rdb, err = infra.InitRedis(&cfg.Redis); err != nil {
			return nil, err
		}
		probes = append(probes, api.ReadinessProbe{Name: "redis", Check: infra.HealthCheckRedis})
	}

	usage, err := buildUsageStore(cfg.Usage, db, rdb)
	if err != nil {
		return nil, err
	}

	limits, err := cfg.TierLimits()
	if err != nil {
		return nil, err
	}
	capCheck := health.NewTierCapChecker(limits, usage, logger.Named("tiercap"))
	tracker := health.NewTracker(breakerConfig(cfg.Health), capCheck, logger.Named("health"))

	app.cache = cache.NewMemoryStore(&cache.Config{
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanupInterval: cfg.Cache.CleanupInterval,
	})

	catalog, err := buildCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	if dir := cfg.Secrets.Dir; dir != "" {
		ai.RegisterCredentialProvider(ai.NewFileCredentialProvider(dir))
		logger.Info("已启用密钥目录", zap.String("dir", dir))
	}
	app.factory = ai.NewClientFactory(providerSettings(cfg.Providers), logger.Named("ai"))
	app.monitor = ai.NewPerformanceMonitor(30 * time.Second)
	executors := app.factory.BuildExecutors(app.monitor)
	if len(executors) == 0 {
		logger.Warn("没有可用的提供商执行器，所有任务将返回 fallback_exhausted")
	}

	sinks := telemetry.MultiSink{
		telemetry.NewZapSink(logger.Named("telemetry")),
		telemetry.MetricsSink{},
		telemetry.NewUsageSink(usage, logger.Named("usage")),
	}
	if cfg.Telemetry.Database {
		app.dbSink = telemetry.NewDBSink(db, logger.Named("telemetry"), cfg.Telemetry.Async)
		sinks = append(sinks, app.dbSink)
	}

	registry := models.NewRegistry(models.DefaultModelOptions())
	r := router.New(registry, catalog, executors, tracker, app.cache, sinks, router.Options{
		MaxAttempts:  cfg.Router.MaxAttempts,
		RetryBackoff: cfg.Router.RetryBackoff(),
		Coalesce:     cfg.Router.Coalesce,
		TierLimits:   limits,
		Estimator:    router.NewTokenEstimator(cfg.Router.TokenEstimator),
		Logger:       logger.Named("router"),
	})

	available := make([]models.Provider, 0, len(executors))
	for _, p := range models.AllProviders {
		if _, ok := executors[p]; ok {
			available = append(available, p)
		}
	}

	app.deps = api.Dependencies{
		Runner:      r,
		Catalog:     catalog,
		Registry:    registry,
		Available:   available,
		Health:      tracker,
		Monitor:     app.monitor,
		Cache:       app.cache,
		Usage:       usage,
		Limits:      capCheck,
		Probes:      probes,
		ServiceName: "taskrouter",
	}
	if app.dbSink != nil {
		app.deps.Invocations = app.dbSink
	}
	if cfg.RateLimit.Enabled {
		app.limiter = middleware.NewRateLimiter(&middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		})
		app.deps.RateLimiter = app.limiter
	}

	logger.Info("组件初始化完成",
		zap.Int("tasks", len(catalog.List())),
		zap.Int("executors", len(executors)),
		zap.String("usage_backend", cfg.Usage.Backend),
		zap.Bool("db_telemetry", app.dbSink != nil),
	)
	return app, nil
}

// buildUsageStore 按配置选择用量存储
func buildUsageStore(cfg config.UsageConfig, db *gorm.DB, rdb redis.UniversalClient) (health.UsageStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return health.NewMemoryUsageStore(), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("用量存储为 redis 但 Redis 未初始化")
		}
		return health.NewRedisUsageStore(rdb, cfg.KeyPrefix), nil
	case "database":
		if db == nil {
			return nil, fmt.Errorf("用量存储为 database 但数据库未初始化")
		}
		return models.NewQuotaService(db), nil
	default:
		return nil, fmt.Errorf("不支持的用量存储: %s", cfg.Backend)
	}
}

// buildCatalog 内置任务 + 可选 YAML 文件或目录覆盖
func buildCatalog(path string) (*tasks.Catalog, error) {
	catalog := tasks.NewBuiltinCatalog()
	if path == "" {
		return catalog, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("任务目录路径不可用: %w", err)
	}

	var n int
	if info.IsDir() {
		n, err = catalog.LoadDirectory(path)
	} else {
		n, err = catalog.LoadFile(path)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("任务目录已加载", zap.String("path", path), zap.Int("count", n))
	return catalog, nil
}

// breakerConfig 配置缺省项回退到默认熔断参数
func breakerConfig(cfg config.HealthConfig) health.BreakerConfig {
	bc := health.DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		bc.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.SuccessThreshold > 0 {
		bc.SuccessThreshold = cfg.SuccessThreshold
	}
	if cfg.Cooldown > 0 {
		bc.Cooldown = cfg.Cooldown
	}
	return bc
}

func providerSettings(in map[string]config.ProviderConfig) map[models.Provider]ai.ProviderSettings {
	out := make(map[models.Provider]ai.ProviderSettings, len(in))
	for name, pc := range in {
		out[models.Provider(name)] = ai.ProviderSettings{
			APIKey:    pc.APIKey,
			APIKeyEnv: pc.APIKeyEnv,
			BaseURL:   pc.BaseURL,
			Timeout:   pc.Timeout,
		}
	}
	return out
}
