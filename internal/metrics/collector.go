// Package metrics exposes Prometheus metrics for the HTTP surface, gateway
// calls, council agents, media jobs, the pre-phase gate and the cache.
package metrics

import (
	"errors"
	"time"

	"github.com/BaSui01/codexmirror/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 网关指标
	gatewayCallsTotal   *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec

	// 代理指标
	agentOutcomesTotal *prometheus.CounterVec
	agentDuration      *prometheus.HistogramVec

	// 调度指标
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	prePhaseRuns     *prometheus.CounterVec

	// 媒体指标
	mediaJobsTotal   *prometheus.CounterVec
	mediaJobDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，指标注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.gatewayCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Total number of capability gateway calls",
		},
		[]string{"provider", "operation", "code"},
	)
	c.gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Capability gateway call duration in seconds, retries included",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "operation"},
	)

	c.agentOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_outcomes_total",
			Help:      "Council agent outcomes by status",
		},
		[]string{"agent", "status"},
	)
	c.agentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_duration_seconds",
			Help:      "Council agent call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent"},
	)

	c.dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Council dispatches by result",
		},
		[]string{"status"},
	)
	c.dispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "End-to-end dispatch duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)
	c.prePhaseRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prephase_runs_total",
			Help:      "Pre-phase gate runs by result",
		},
		[]string{"status"},
	)

	c.mediaJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_jobs_total",
			Help:      "Media generation jobs by kind and status",
		},
		[]string{"kind", "status"},
	)
	c.mediaJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "media_job_duration_seconds",
			Help:      "Media generation duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)
	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🤖 网关 / 代理 / 媒体
// =============================================================================

// ObserveGatewayCall implements llm.CallObserver.
func (c *Collector) ObserveGatewayCall(provider, operation string, duration time.Duration, err error) {
	c.gatewayCallsTotal.WithLabelValues(provider, operation, errorCode(err)).Inc()
	c.gatewayCallDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// ObserveAgent implements council.Observer.
func (c *Collector) ObserveAgent(agent string, ok bool, duration time.Duration) {
	c.agentOutcomesTotal.WithLabelValues(agent, okStatus(ok)).Inc()
	c.agentDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// ObserveMedia implements media.Observer.
func (c *Collector) ObserveMedia(kind string, ok bool, duration time.Duration) {
	c.mediaJobsTotal.WithLabelValues(kind, okStatus(ok)).Inc()
	c.mediaJobDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDispatch 记录一次完整调度；status 为 ok、superseded 或 failed
func (c *Collector) RecordDispatch(status string, duration time.Duration) {
	c.dispatchesTotal.WithLabelValues(status).Inc()
	c.dispatchDuration.Observe(duration.Seconds())
}

// RecordPrePhase 记录前置阶段结果
func (c *Collector) RecordPrePhase(status string) {
	c.prePhaseRuns.WithLabelValues(status).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

func okStatus(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// errorCode labels a gateway error by its code. Unknown errors are "error".
func errorCode(err error) string {
	if err == nil {
		return "ok"
	}
	if code := types.GetErrorCode(err); code != "" {
		return string(code)
	}
	var coded interface{ ToTypes() *types.Error }
	if errors.As(err, &coded) {
		return string(coded.ToTypes().Code)
	}
	return "error"
}
