package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/codexmirror/archive"
	"github.com/BaSui01/codexmirror/config"
	"github.com/BaSui01/codexmirror/council"
	"github.com/BaSui01/codexmirror/gate"
	"github.com/BaSui01/codexmirror/internal/cache"
	"github.com/BaSui01/codexmirror/internal/database"
	"github.com/BaSui01/codexmirror/internal/metrics"
	"github.com/BaSui01/codexmirror/internal/migration"
	"github.com/BaSui01/codexmirror/internal/sysmetrics"
	"github.com/BaSui01/codexmirror/llm"
	"github.com/BaSui01/codexmirror/llm/circuitbreaker"
	"github.com/BaSui01/codexmirror/llm/observability"
	"github.com/BaSui01/codexmirror/llm/providers/gemini"
	"github.com/BaSui01/codexmirror/llm/retry"
	"github.com/BaSui01/codexmirror/media"
	"github.com/BaSui01/codexmirror/orchestrator"
	"github.com/BaSui01/codexmirror/tactical"
	"go.uber.org/zap"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// app 持有一次进程运行所需的全部组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	gateway   *llm.Resilient
	collector *metrics.Collector
	cache     *cache.Manager
	snapshots sysmetrics.Snapshotter

	// 未配置数据库时为 nil
	db      *database.Pool
	reports *archive.Store

	orchestrator *orchestrator.Orchestrator
	briefer      *orchestrator.Briefer
}

// newGateway 创建 Gemini 网关
func newGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (llm.Gateway, error) {
	if cfg.Gemini.APIKey == "" {
		return nil, errors.New("gemini api key is not configured (set CODEXMIRROR_GEMINI_API_KEY or GEMINI_API_KEY)")
	}
	gw, err := gemini.New(ctx, gemini.Config{
		APIKey:           cfg.Gemini.APIKey,
		BaseURL:          cfg.Gemini.BaseURL,
		StandardModel:    cfg.Gemini.StandardModel,
		DeepModel:        cfg.Gemini.DeepModel,
		SynthesisModel:   cfg.Gemini.SynthesisModel,
		ImageModel:       cfg.Media.ImageModel,
		VideoModel:       cfg.Media.VideoModel,
		VideoResolution:  cfg.Media.VideoResolution,
		VideoAspectRatio: cfg.Media.VideoAspectRatio,
		ImageAspectRatio: cfg.Media.ImageAspectRatio,
		Timeout:          cfg.Gemini.DownloadTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create gemini gateway: %w", err)
	}
	return gw, nil
}

// openArchive 打开归档数据库，按配置执行迁移
func openArchive(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*database.Pool, *archive.Store, error) {
	pool, err := database.Open(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := migrateUp(ctx, pool, logger); err != nil {
			_ = pool.Close()
			return nil, nil, err
		}
	}
	return pool, archive.NewStore(pool.DB(), logger), nil
}

func migrateUp(ctx context.Context, pool *database.Pool, logger *zap.Logger) error {
	dialect, err := migration.ParseDialect(pool.Driver())
	if err != nil {
		return err
	}
	m, err := migration.New(ctx, pool.SQL(), dialect, logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up(ctx)
}

// breakerConfig 转换熔断配置。议会一次并发调用全部智能体，
// 半开试探名额至少为 roster 人数。
func breakerConfig(cfg config.BreakerConfig, roster council.Roster) circuitbreaker.Config {
	return circuitbreaker.Config{
		Threshold:        cfg.Threshold,
		ResetTimeout:     cfg.ResetTimeout,
		HalfOpenMaxCalls: max(cfg.HalfOpenMaxCalls, roster.Len()),
	}
}

// newApp 在给定网关之上装配编排器与简报
func newApp(ctx context.Context, cfg *config.Config, gw llm.Gateway, logger *zap.Logger) (*app, error) {
	roster, err := config.LoadRoster(cfg.Council.RosterFile)
	if err != nil {
		return nil, err
	}

	var (
		pool  *database.Pool
		store *archive.Store
	)
	if cfg.Database.Enabled() {
		if pool, store, err = openArchive(ctx, cfg.Database, logger); err != nil {
			return nil, fmt.Errorf("open report archive: %w", err)
		}
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)

	// 网关调用同时记入 Prometheus 与 OTel
	observers := []llm.CallObserver{collector}
	if otelMetrics, err := observability.NewMetrics(); err != nil {
		logger.Warn("otel gateway metrics unavailable", zap.Error(err))
	} else {
		observers = append(observers, otelMetrics)
	}

	resilient := llm.NewResilient(gw, llm.ResilientOptions{
		Retry: retry.Policy{
			MaxRetries:   cfg.Retry.MaxRetries,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		},
		Breaker:           breakerConfig(cfg.Breaker, roster),
		RequestsPerSecond: cfg.Gemini.RequestsPerSecond,
		Burst:             cfg.Gemini.Burst,
		Observer:          observability.Fanout(observers...),
	}, logger)

	dispatcher := council.NewDispatcher(resilient, council.DispatcherConfig{
		Tiers: tactical.Tiers{
			Standard:       cfg.Gemini.StandardModel,
			Deep:           cfg.Gemini.DeepModel,
			ThinkingBudget: cfg.Gemini.ThinkingBudget,
		},
		Temperature: cfg.Gemini.AgentTemperature,
		TopP:        cfg.Gemini.TopP,
		CallTimeout: cfg.Gemini.CallTimeout,
	}, collector, logger)

	synthCfg := council.DefaultSynthesizerConfig()
	synthCfg.Model = cfg.Gemini.SynthesisModel
	synthCfg.Temperature = cfg.Gemini.SynthesisTemperature
	synthCfg.Timeout = cfg.Gemini.SynthesisTimeout
	if cfg.Council.SynthesisFraming != "" {
		synthCfg.Framing = cfg.Council.SynthesisFraming
	}
	if cfg.Council.PrePhaseFraming != "" {
		synthCfg.PrePhaseFraming = cfg.Council.PrePhaseFraming
	}
	synthesizer := council.NewSynthesizer(resilient, synthCfg, logger)

	workflow := media.NewWorkflow(resilient, media.Config{
		ImageModel:       cfg.Media.ImageModel,
		ImageAspectRatio: cfg.Media.ImageAspectRatio,
		VideoModel:       cfg.Media.VideoModel,
		VideoResolution:  cfg.Media.VideoResolution,
		VideoAspectRatio: cfg.Media.VideoAspectRatio,
		PollInterval:     cfg.Media.PollInterval,
		VideoTimeout:     cfg.Media.VideoTimeout,
	}, logger, media.WithObserver(collector))

	gateCfg := gate.DefaultConfig()
	if len(cfg.Gate.Stages) > 0 {
		gateCfg.Stages = cfg.Gate.Stages
	}
	if cfg.Gate.Interval > 0 {
		gateCfg.Interval = cfg.Gate.Interval
	}
	if cfg.Gate.TrailingDelay > 0 {
		gateCfg.TrailingDelay = cfg.Gate.TrailingDelay
	}

	snapshots := sysmetrics.NewCollector(cfg.Metrics.ProcRoot, logger)

	orchOpts := []orchestrator.Option{
		orchestrator.WithGateConfig(gateCfg),
		orchestrator.WithPrePhase(cfg.Council.PrePhase),
		orchestrator.WithSnapshotter(snapshots),
		orchestrator.WithRecorder(collector),
	}
	if store != nil {
		orchOpts = append(orchOpts, orchestrator.WithArchiver(store))
	}
	orch := orchestrator.New(roster, dispatcher, synthesizer, workflow, logger, orchOpts...)

	briefCache := cache.Open(cache.Config{
		Addr:                cfg.Redis.Addr,
		Password:            cfg.Redis.Password,
		DB:                  cfg.Redis.DB,
		KeyPrefix:           cfg.Redis.KeyPrefix,
		DefaultTTL:          cfg.Briefing.TTL,
		MaxRetries:          cache.DefaultConfig().MaxRetries,
		PoolSize:            cfg.Redis.PoolSize,
		HealthCheckInterval: cfg.Redis.HealthCheckInterval,
		TLS:                 cfg.Redis.TLS,
	}, logger)

	briefCfg := orchestrator.DefaultBrieferConfig()
	briefCfg.Model = cfg.Briefing.Model
	briefCfg.Temperature = cfg.Briefing.Temperature
	briefCfg.Timeout = cfg.Briefing.Timeout
	briefCfg.TTL = cfg.Briefing.TTL
	briefer := orchestrator.NewBriefer(resilient, snapshots, briefCfg, logger,
		orchestrator.WithBriefingCache(briefCache),
		orchestrator.WithCacheRecorder(collector),
	)

	logger.Info("components assembled",
		zap.Strings("roster", roster.Names()),
		zap.String("gateway", resilient.Name()),
		zap.String("cache", briefCache.Backend()),
		zap.String("archive", cfg.Database.Driver),
		zap.Bool("pre_phase", cfg.Council.PrePhase),
	)

	return &app{
		cfg:          cfg,
		logger:       logger,
		gateway:      resilient,
		collector:    collector,
		cache:        briefCache,
		snapshots:    snapshots,
		db:           pool,
		reports:      store,
		orchestrator: orch,
		briefer:      briefer,
	}, nil
}

// Close 释放缓存与数据库连接
func (a *app) Close() error {
	err := a.cache.Close()
	if a.db != nil {
		err = errors.Join(err, a.db.Close())
	}
	return err
}
