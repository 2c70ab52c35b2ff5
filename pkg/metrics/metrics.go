// Package metrics implements the Metrics component: lock-free atomic
// counters/gauges that are the source of truth, plus an OpenTelemetry
// exposition layer that periodically observes them and publishes to
// Prometheus.
package metrics

import (
	"math"
	"sync/atomic"
)

// emaAlpha is the exponential-moving-average smoothing factor for
// ema_processing_ms.
const emaAlpha = 0.2

// Snapshot is a point-in-time read of all Metrics fields.
type Snapshot struct {
	ChunksProcessed    uint64
	ChunksDropped      uint64
	LastProcessingMs   float64
	EMAProcessingMs    float64
	EstimatedLatencyMs float64
	InputFill          int64
	OutputFill         int64
}

// Metrics holds per-pipeline counters and gauges. Every field is updated
// with plain atomic stores; readers may see an inconsistent combination of
// fields across a single Snapshot call in principle, but never a torn
// individual field.
type Metrics struct {
	chunksProcessed    atomic.Uint64
	chunksDropped      atomic.Uint64
	lastProcessingMs   atomic.Uint64 // bits of a float64
	emaProcessingMs    atomic.Uint64 // bits of a float64
	estimatedLatencyMs atomic.Uint64 // bits of a float64
	inputFill          atomic.Int64
	outputFill         atomic.Int64
}

// New returns a zeroed Metrics.
func New() *Metrics {
	return &Metrics{}
}

// RecordSuccess updates chunks_processed, last_processing_ms, the EMA, and
// estimated_latency_ms after a successful ConvertChunk.
func (m *Metrics) RecordSuccess(processingMs float64, chunkMs float64, outputBufMs float64) {
	m.chunksProcessed.Add(1)
	storeFloat(&m.lastProcessingMs, processingMs)

	prevEMA := loadFloat(&m.emaProcessingMs)
	var ema float64
	if m.chunksProcessed.Load() == 1 {
		ema = processingMs
	} else {
		ema = emaAlpha*processingMs + (1-emaAlpha)*prevEMA
	}
	storeFloat(&m.emaProcessingMs, ema)

	estimated := chunkMs + ema + outputBufMs
	storeFloat(&m.estimatedLatencyMs, estimated)
}

// RecordDrop increments chunks_dropped, used when the worker substitutes
// silence for a failed chunk.
func (m *Metrics) RecordDrop() {
	m.chunksDropped.Add(1)
}

// SetInputFill updates the input_fill gauge.
func (m *Metrics) SetInputFill(n int) {
	m.inputFill.Store(int64(n))
}

// SetOutputFill updates the output_fill gauge.
func (m *Metrics) SetOutputFill(n int) {
	m.outputFill.Store(int64(n))
}

// Snapshot returns a non-blocking read of every field.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		ChunksProcessed:    m.chunksProcessed.Load(),
		ChunksDropped:      m.chunksDropped.Load(),
		LastProcessingMs:   loadFloat(&m.lastProcessingMs),
		EMAProcessingMs:    loadFloat(&m.emaProcessingMs),
		EstimatedLatencyMs: loadFloat(&m.estimatedLatencyMs),
		InputFill:          m.inputFill.Load(),
		OutputFill:         m.outputFill.Load(),
	}
}

func storeFloat(a *atomic.Uint64, v float64) {
	a.Store(math.Float64bits(v))
}

func loadFloat(a *atomic.Uint64) float64 {
	return math.Float64frombits(a.Load())
}
