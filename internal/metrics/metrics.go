package metrics

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service instruments. Every method is safe on a nil
// receiver so packages can be used without metrics wired.
type Metrics struct {
	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter
	PageFetches       metric.Int64Counter
	HistoryFetches    metric.Int64Counter
	StreamMessages    metric.Int64Counter
	StreamTickers     metric.Int64Counter
	DecodeFailures    metric.Int64Counter
	StreamReconnects  metric.Int64Counter
	RowsPublished     metric.Int64Counter
}

// Setup builds the instruments on a fresh Prometheus registry and returns the
// scrape handler for it.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := New(provider.Meter(serviceName))
	if err != nil {
		return nil, nil, err
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m, handler, nil
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequests, "tb_http_requests_total", "Total number of HTTP requests"},
		{&m.CacheHits, "tb_cache_hits_total", "Total number of cache hits"},
		{&m.CacheMisses, "tb_cache_misses_total", "Total number of cache misses"},
		{&m.PageFetches, "tb_snapshot_page_fetches_total", "Snapshot page fetches by result"},
		{&m.HistoryFetches, "tb_history_fetches_total", "Kline history fetches by result"},
		{&m.StreamMessages, "tb_stream_messages_total", "Frames received from the ticker stream"},
		{&m.StreamTickers, "tb_stream_tickers_total", "Ticker updates delivered to listeners"},
		{&m.DecodeFailures, "tb_stream_decode_failures_total", "Stream frames that failed to decode"},
		{&m.StreamReconnects, "tb_stream_reconnects_total", "Stream reconnect attempts"},
		{&m.RowsPublished, "tb_rows_published_total", "Rendered rows pushed to subscribers"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"tb_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"tb_stream_subscribers",
		metric.WithDescription("Number of active SSE and WebSocket subscribers"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func result(err error) metric.MeasurementOption {
	if err != nil {
		return metric.WithAttributes(attribute.String("result", "error"))
	}
	return metric.WithAttributes(attribute.String("result", "ok"))
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, -1)
}

func (m *Metrics) RecordPageFetch(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.PageFetches.Add(ctx, 1, result(err))
}

func (m *Metrics) RecordHistoryFetch(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.HistoryFetches.Add(ctx, 1, result(err))
}

// RecordStreamMessage counts one frame and the ticker updates it carried.
func (m *Metrics) RecordStreamMessage(ctx context.Context, tickers int) {
	if m == nil {
		return
	}
	m.StreamMessages.Add(ctx, 1)
	m.StreamTickers.Add(ctx, int64(tickers))
}

func (m *Metrics) RecordDecodeFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.DecodeFailures.Add(ctx, 1)
}

func (m *Metrics) RecordReconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.StreamReconnects.Add(ctx, 1)
}

func (m *Metrics) RecordRowsPublished(ctx context.Context, rows int) {
	if m == nil {
		return
	}
	m.RowsPublished.Add(ctx, int64(rows))
}
