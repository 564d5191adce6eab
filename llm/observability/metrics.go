package observability

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/codexmirror/llm"
	"github.com/BaSui01/codexmirror/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/BaSui01/codexmirror/llm"

// Metrics 网关调用指标（OpenTelemetry meter）
type Metrics struct {
	requestTotal    metric.Int64Counter
	errorTotal      metric.Int64Counter
	requestDuration metric.Float64Histogram
}

var _ llm.CallObserver = (*Metrics)(nil)

// NewMetrics 使用全局 MeterProvider 创建指标
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(instrumentationName))
}

// NewMetricsWithMeter 使用指定 meter 创建指标
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// 请求计数
	m.requestTotal, err = meter.Int64Counter("gateway.request.total",
		metric.WithDescription("Total number of capability gateway calls"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	// 错误计数
	m.errorTotal, err = meter.Int64Counter("gateway.error.total",
		metric.WithDescription("Total number of failed gateway calls"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	// 请求延迟
	m.requestDuration, err = meter.Float64Histogram("gateway.request.duration",
		metric.WithDescription("Gateway call duration in seconds, retries included"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveGatewayCall implements llm.CallObserver.
func (m *Metrics) ObserveGatewayCall(provider, operation string, duration time.Duration, err error) {
	ctx := context.Background()
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
	m.requestTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)

	if err != nil {
		code := string(types.GetErrorCode(err))
		var le *llm.Error
		if errors.As(err, &le) {
			code = string(le.Code)
		}
		if code == "" {
			code = "unknown"
		}
		m.errorTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("operation", operation),
			attribute.String("error_code", code)))
	}
}

// Fanout forwards every call to each non-nil observer.
func Fanout(observers ...llm.CallObserver) llm.CallObserver {
	var kept multiObserver
	for _, o := range observers {
		if o != nil {
			kept = append(kept, o)
		}
	}
	return kept
}

type multiObserver []llm.CallObserver

func (m multiObserver) ObserveGatewayCall(provider, operation string, duration time.Duration, err error) {
	for _, o := range m {
		o.ObserveGatewayCall(provider, operation, duration, err)
	}
}
