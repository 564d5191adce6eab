package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// readyTimeout 就绪检查的总超时
const readyTimeout = 5 * time.Second

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "warn", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger,
		checks: make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleHealthz Kubernetes 存活探针，只说明进程在运行
// @Summary Kubernetes 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 就绪检查，并发执行所有已注册检查
// @Summary 准备情况检查
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已准备就绪"
// @Failure 503 {object} HealthStatus "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Evaluate 执行所有检查并汇总。非关键检查失败只降级。
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	var (
		mu       sync.Mutex
		results  = make(map[string]CheckResult, len(checks))
		failed   bool
		degraded bool
	)

	var g errgroup.Group
	for _, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			result := CheckResult{Status: "pass", Latency: latency.String()}
			if err != nil {
				result.Status = "fail"
				result.Message = err.Error()
				if !isCritical(check) {
					result.Status = "warn"
				}
				h.logger.Warn("health check failed",
					zap.String("check", check.Name()),
					zap.Error(err),
					zap.Duration("latency", latency),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			results[check.Name()] = result
			switch result.Status {
			case "fail":
				failed = true
			case "warn":
				degraded = true
			}
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{Status: "healthy", Timestamp: time.Now(), Checks: results}
	switch {
	case failed:
		status.Status = "unhealthy"
	case degraded:
		status.Status = "degraded"
	}
	return status
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// CheckFunc 把一个 ping 函数包装成 HealthCheck
type CheckFunc struct {
	name     string
	ping     func(ctx context.Context) error
	critical bool
}

// NewCheck 创建关键检查，失败时服务不就绪
func NewCheck(name string, ping func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, ping: ping, critical: true}
}

// NewSoftCheck 创建非关键检查，失败时服务降级但仍就绪
func NewSoftCheck(name string, ping func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, ping: ping}
}

func (c *CheckFunc) Name() string { return c.name }

func (c *CheckFunc) Check(ctx context.Context) error { return c.ping(ctx) }

// Critical 报告失败是否让服务不就绪
func (c *CheckFunc) Critical() bool { return c.critical }

func isCritical(check HealthCheck) bool {
	if c, ok := check.(interface{ Critical() bool }); ok {
		return c.Critical()
	}
	return true
}
