package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/codexmirror/api/handlers"
	"github.com/BaSui01/codexmirror/internal/server"
	"github.com/BaSui01/codexmirror/internal/telemetry"
	"github.com/BaSui01/codexmirror/llm/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// retentionInterval 归档清理周期
const retentionInterval = time.Hour

// 健康检查与版本端点，不需要认证
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 持有 API 与 metrics 两个监听器
type Server struct {
	app       *app
	logger    *zap.Logger
	telemetry *telemetry.Providers

	httpManager    *server.Manager
	metricsManager *server.Manager

	// Rate limiter 生命周期
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建服务器，不启动监听
func NewServer(a *app, providers *telemetry.Providers) *Server {
	s := &Server{
		app:       a,
		logger:    a.logger,
		telemetry: providers,
	}

	rlCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	cfg := a.cfg.Server
	s.httpManager = server.NewManager("api", s.handler(rlCtx), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.HTTPPort),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		IdleTimeout:     2 * cfg.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.ShutdownTimeout,
		CertFile:        cfg.CertFile,
		KeyFile:         cfg.KeyFile,
	}, s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager("metrics", metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.MetricsPort),
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, s.logger)

	return s
}

// handler 构建路由与中间件链
func (s *Server) handler(rlCtx context.Context) http.Handler {
	a := s.app

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewCheck("gateway", func(context.Context) error {
		if st := a.gateway.BreakerState(); st == circuitbreaker.StateOpen {
			return fmt.Errorf("circuit breaker is %s", st)
		}
		return nil
	}))
	health.RegisterCheck(handlers.NewSoftCheck("cache", a.cache.Ping))
	var history handlers.History
	if a.reports != nil {
		history = a.reports
		health.RegisterCheck(handlers.NewSoftCheck("database", a.db.Ping))
	}

	councilHandler := handlers.NewCouncilHandler(a.orchestrator, a.briefer, s.logger)
	mediaHandler := handlers.NewMediaHandler(a.orchestrator, s.logger, a.cfg.Server.AllowedOrigins...)
	historyHandler := handlers.NewHistoryHandler(history, s.logger)

	mux := http.NewServeMux()
	routes := make([]string, 0, 16)
	handle := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, h)
		routes = append(routes, pattern)
	}

	handle("/health", health.HandleHealth)
	handle("/healthz", health.HandleHealthz)
	handle("/ready", health.HandleReady)
	handle("/readyz", health.HandleReady)
	handle("/version", health.HandleVersion(Version, BuildTime, GitCommit))

	handle("/api/v1/dispatch", councilHandler.HandleDispatch)
	handle("/api/v1/dispatch/suggestion", councilHandler.HandleSuggestion)
	handle("/api/v1/state", councilHandler.HandleState)
	handle("/api/v1/roster", councilHandler.HandleRoster)
	handle("/api/v1/prephase", councilHandler.HandlePrePhase)
	handle("/api/v1/prephase/complete", councilHandler.HandleCompletePrePhase)
	handle("/api/v1/briefing", councilHandler.HandleBriefing)

	handle("/api/v1/reports", historyHandler.HandleList)
	handle("/api/v1/reports/{id}", historyHandler.HandleGet)

	handle("/api/v1/media/image", mediaHandler.HandleImage)
	handle("/api/v1/media/video", mediaHandler.HandleVideo)
	handle("/api/v1/media/video/ws", mediaHandler.HandleVideoStream)
	handle("/api/v1/media/current", mediaHandler.HandleMediaContent)

	cfg := a.cfg.Server
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(a.collector, routes),
		OTelTracing(),
		RateLimiter(rlCtx, cfg.RateLimitRPS, cfg.RateLimitBurst, s.logger),
		Authenticate(cfg.Auth, publicPaths, s.logger),
	)
}

// Run 启动两个监听器，阻塞到 ctx 结束或任一监听器异常退出
func (s *Server) Run(ctx context.Context) error {
	defer s.rateLimiterCancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })
	if s.app.reports != nil {
		retention := s.app.cfg.Database.Retention
		g.Go(func() error {
			s.app.reports.RunRetention(gctx, retention, retentionInterval)
			return nil
		})
	}

	s.logger.Info("servers started",
		zap.Int("http_port", s.app.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.app.cfg.Server.MetricsPort),
	)

	err := g.Wait()
	s.shutdown()
	return err
}

// shutdown 释放监听器之外的资源
func (s *Server) shutdown() {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), s.app.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
	if err := s.app.Close(); err != nil {
		s.logger.Error("resource close error", zap.Error(err))
	}

	s.logger.Info("graceful shutdown completed")
}
