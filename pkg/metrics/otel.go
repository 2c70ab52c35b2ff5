package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Exporter observes a Metrics snapshot on every Prometheus scrape and
// republishes chunks_processed, chunks_dropped, last_processing_ms,
// ema_processing_ms, estimated_latency_ms, input_fill, and output_fill as
// OTel instruments. The underlying Metrics remains the lock-free source of
// truth; this is a periodic observer layered on top, not a replacement.
type Exporter struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
}

// NewExporter builds a Prometheus-backed OTel meter provider that observes
// m's fields, tagged with pipelineID (e.g. a pipeline's uuid) so multiple
// concurrently running pipelines are distinguishable.
func NewExporter(m *Metrics, pipelineID string) (*Exporter, error) {
	reader, err := prometheus.New()
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("github.com/BasicFist/rwc/pkg/metrics")

	attrs := attribute.NewSet(attribute.String("pipeline_id", pipelineID))

	chunksProcessed, err := meter.Int64ObservableCounter("rwc_chunks_processed_total")
	if err != nil {
		return nil, err
	}
	chunksDropped, err := meter.Int64ObservableCounter("rwc_chunks_dropped_total")
	if err != nil {
		return nil, err
	}
	lastProcessingMs, err := meter.Float64ObservableGauge("rwc_last_processing_ms")
	if err != nil {
		return nil, err
	}
	emaProcessingMs, err := meter.Float64ObservableGauge("rwc_ema_processing_ms")
	if err != nil {
		return nil, err
	}
	estimatedLatencyMs, err := meter.Float64ObservableGauge("rwc_estimated_latency_ms")
	if err != nil {
		return nil, err
	}
	inputFill, err := meter.Int64ObservableGauge("rwc_input_fill_samples")
	if err != nil {
		return nil, err
	}
	outputFill, err := meter.Int64ObservableGauge("rwc_output_fill_samples")
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := m.Snapshot()
		o.ObserveInt64(chunksProcessed, int64(snap.ChunksProcessed), metric.WithAttributeSet(attrs))
		o.ObserveInt64(chunksDropped, int64(snap.ChunksDropped), metric.WithAttributeSet(attrs))
		o.ObserveFloat64(lastProcessingMs, snap.LastProcessingMs, metric.WithAttributeSet(attrs))
		o.ObserveFloat64(emaProcessingMs, snap.EMAProcessingMs, metric.WithAttributeSet(attrs))
		o.ObserveFloat64(estimatedLatencyMs, snap.EstimatedLatencyMs, metric.WithAttributeSet(attrs))
		o.ObserveInt64(inputFill, snap.InputFill, metric.WithAttributeSet(attrs))
		o.ObserveInt64(outputFill, snap.OutputFill, metric.WithAttributeSet(attrs))
		return nil
	},
		chunksProcessed, chunksDropped, lastProcessingMs, emaProcessingMs,
		estimatedLatencyMs, inputFill, outputFill,
	)
	if err != nil {
		return nil, err
	}

	return &Exporter{provider: provider, handler: promhttp.Handler()}, nil
}

// Handler returns the http.Handler that serves the Prometheus scrape
// endpoint.
func (e *Exporter) Handler() http.Handler {
	return e.handler
}

// Shutdown flushes and stops the meter provider.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}
