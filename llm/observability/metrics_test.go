package observability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/codexmirror/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetricsWithMeter(mp.Meter("test"))
	require.NoError(t, err)
	return m, reader
}

func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok, name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_ObserveGatewayCall(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.ObserveGatewayCall("gemini", "structured", time.Second, nil)
	m.ObserveGatewayCall("gemini", "structured", time.Second, &llm.Error{Code: llm.ErrRateLimited})
	m.ObserveGatewayCall("gemini", "text", time.Second, errors.New("opaque"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(3), sumOf(t, rm, "gateway.request.total"))
	assert.Equal(t, int64(2), sumOf(t, rm, "gateway.error.total"))
}

func TestNewMetrics_GlobalMeter(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	assert.NotPanics(t, func() { m.ObserveGatewayCall("gemini", "image", time.Millisecond, nil) })
}

type countingObserver struct {
	mu    sync.Mutex
	calls int
}

func (c *countingObserver) ObserveGatewayCall(string, string, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func TestFanout(t *testing.T) {
	a, b := &countingObserver{}, &countingObserver{}
	obs := Fanout(a, nil, b)

	obs.ObserveGatewayCall("gemini", "text", time.Second, nil)
	obs.ObserveGatewayCall("gemini", "text", time.Second, nil)

	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 2, b.calls)
}
