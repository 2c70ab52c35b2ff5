// Package pipeline implements the StreamingPipeline: the orchestrator that
// owns a BufferManager, a ConversionBackend, and the dedicated inference
// worker thread that drains input chunks through the backend and into the
// output buffer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BasicFist/rwc/pkg/backend"
	"github.com/BasicFist/rwc/pkg/buffermgr"
	"github.com/BasicFist/rwc/pkg/convconfig"
	"github.com/BasicFist/rwc/pkg/metrics"
	"github.com/BasicFist/rwc/pkg/rvcerr"
	"github.com/BasicFist/rwc/pkg/trace"
)

// joinTimeout bounds how long stop() waits for the worker goroutine to
// notice the stop flag and return.
const joinTimeout = 2 * time.Second

// MetricsCallback is invoked from a dedicated timer goroutine, never from
// the worker, per the metrics-callback contract.
type MetricsCallback func(metrics.Snapshot)

// Pipeline is the StreamingPipeline. The zero value is not usable; build
// one with New.
type Pipeline struct {
	id  string
	cfg *convconfig.Config
	log *logrus.Entry

	buf *buffermgr.Manager
	be  backend.ConversionBackend
	met *metrics.Metrics

	mu    sync.Mutex
	state State

	cancel   context.CancelFunc
	eg       *errgroup.Group
	stopOnce sync.Once

	metricsStopCh chan struct{}
	metricsWg     sync.WaitGroup
}

// New creates a Pipeline in the Created state. The backend is not
// initialized until Start is called.
func New(cfg *convconfig.Config, be backend.ConversionBackend, log *logrus.Logger) *Pipeline {
	if log == nil {
		log = logrus.New()
	}
	id := uuid.NewString()
	// Input and output each hold 16 chunks, so a burst of several chunks
	// delivered in one ProcessInput call is converted without overflow.
	buf := buffermgr.New(cfg.ChunkSize, cfg.ContextSize(), 16*cfg.ChunkSize, 16*cfg.ChunkSize)
	return &Pipeline{
		id:    id,
		cfg:   cfg,
		log:   log.WithField("pipeline_id", id),
		buf:   buf,
		be:    be,
		met:   metrics.New(),
		state: StateCreated,
	}
}

// ID returns the pipeline's instance identifier.
func (p *Pipeline) ID() string {
	return p.id
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start verifies the pipeline is Created, initializes the backend, and
// spawns the worker goroutine. Calling Start more than once is a no-op
// after the first call leaves the Created state.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.state != StateCreated {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	_, span := trace.InstrumentPipelineStart(context.Background(), p.id)
	defer span.End()

	if err := p.be.Initialize(); err != nil {
		p.mu.Lock()
		p.state = StateFailed
		p.mu.Unlock()
		initErr := rvcerr.NewBackendInitError("conversion", err)
		trace.RecordError(span, initErr)
		p.log.WithError(initErr).Error("backend initialize failed, pipeline failed")
		return initErr
	}

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	p.mu.Lock()
	p.state = StateRunning
	p.cancel = cancel
	p.eg = eg
	p.mu.Unlock()

	eg.Go(func() error {
		p.runWorker(egCtx)
		return nil
	})

	p.log.Info("pipeline started")
	return nil
}

// ProcessInput appends samples to the input buffer. Non-blocking, safe
// from any goroutine, may be called at any rate. No-op once the pipeline
// has left Running. Returns a ValidationError, without writing anything,
// if samples contains a NaN or infinite value.
func (p *Pipeline) ProcessInput(samples []float32) error {
	if p.State() != StateRunning {
		return nil
	}
	if i, ok := firstInvalidSample(samples); !ok {
		return rvcerr.NewValidationError("samples", i, "NaN or Inf sample at this index")
	}
	p.buf.WriteInput(samples)
	return nil
}

// firstInvalidSample returns the index of the first NaN or infinite sample
// and false, or (0, true) if samples are all finite.
func firstInvalidSample(samples []float32) (int, bool) {
	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return i, false
		}
	}
	return 0, true
}

// GetOutput returns up to n converted samples. Returns an empty slice if
// the output buffer has nothing ready; the caller is expected to pad with
// silence. No-op (empty) once the pipeline has left Running.
func (p *Pipeline) GetOutput(n int) []float32 {
	if p.State() != StateRunning {
		return nil
	}
	return p.buf.ReadOutput(n)
}

// Metrics returns a non-blocking snapshot of the pipeline's counters and
// gauges.
func (p *Pipeline) Metrics() metrics.Snapshot {
	return p.met.Snapshot()
}

// MetricsHandle returns the underlying Metrics, for wiring an OTel exporter
// that observes it on its own schedule.
func (p *Pipeline) MetricsHandle() *metrics.Metrics {
	return p.met
}

// SetMetricsCallback starts a timer goroutine that invokes cb with a
// metrics snapshot every interval. Calling it again replaces the previous
// callback. The callback never runs on the worker goroutine.
func (p *Pipeline) SetMetricsCallback(cb MetricsCallback, interval time.Duration) {
	if p.metricsStopCh != nil {
		close(p.metricsStopCh)
		p.metricsWg.Wait()
	}
	stop := make(chan struct{})
	p.metricsStopCh = stop
	p.metricsWg.Add(1)
	go func() {
		defer p.metricsWg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cb(p.Metrics())
			case <-stop:
				return
			}
		}
	}()
}

// Stop sets the stop flag, waits for the worker to join (bounded by
// joinTimeout), calls backend.Cleanup, and transitions to Stopped.
// Idempotent: a second call observes the first's outcome and returns nil.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	switch p.state {
	case StateStopped, StateFailed:
		p.mu.Unlock()
		return nil
	case StateCreated:
		p.state = StateStopped
		p.mu.Unlock()
		return nil
	case StateStopping:
		eg := p.eg
		p.mu.Unlock()
		if eg != nil {
			_ = eg.Wait()
		}
		return nil
	}
	p.state = StateStopping
	eg := p.eg
	p.mu.Unlock()

	_, span := trace.InstrumentPipelineStop(context.Background(), p.id)
	defer span.End()

	p.stopOnce.Do(func() { p.cancel() })

	done := make(chan struct{})
	go func() {
		_ = eg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(joinTimeout):
		p.mu.Lock()
		p.state = StateFailed
		p.mu.Unlock()
		p.log.Error("worker did not join within timeout, pipeline marked failed")
		_ = p.be.Cleanup()
		if p.metricsStopCh != nil {
			close(p.metricsStopCh)
			p.metricsWg.Wait()
		}
		return fmt.Errorf("worker join timed out after %s", joinTimeout)
	}

	if err := p.be.Cleanup(); err != nil {
		p.log.WithError(err).Warn("backend cleanup returned an error during stop")
	}

	if p.metricsStopCh != nil {
		close(p.metricsStopCh)
		p.metricsWg.Wait()
	}

	p.mu.Lock()
	if p.state == StateStopping {
		p.state = StateStopped
	}
	p.mu.Unlock()

	p.log.Info("pipeline stopped")
	return nil
}

func (p *Pipeline) runWorker(ctx context.Context) {
	sleepFor := time.Duration(float64(p.cfg.ChunkSize) / float64(p.cfg.SampleRate) / 4 * float64(time.Second))
	if sleepFor > 5*time.Millisecond {
		sleepFor = 5 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		chunkCtx, ok := p.buf.ReadChunkForProcessing()
		if !ok {
			p.met.SetInputFill(p.buf.BufferHealth().InputFill)
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleepFor):
			}
			continue
		}

		_, span := trace.InstrumentChunkConvert(ctx, p.id, p.cfg.ChunkSize, p.cfg.ContextSize(), p.cfg.Backend.String())
		t0 := time.Now()
		converted, err := p.be.ConvertChunk(chunkCtx.Chunk, chunkCtx.Context)
		dt := time.Since(t0)

		if err == nil {
			span.End()
			p.buf.WriteOutput(converted)
			health := p.buf.BufferHealth()
			chunkMs := float64(p.cfg.ChunkSize) / float64(p.cfg.SampleRate) * 1000
			outputBufMs := float64(health.OutputFill) / float64(p.cfg.SampleRate) * 1000
			p.met.RecordSuccess(float64(dt.Milliseconds()), chunkMs, outputBufMs)
			p.met.SetInputFill(health.InputFill)
			p.met.SetOutputFill(health.OutputFill)
			continue
		}

		var convErr *rvcerr.BackendConvertError
		if !errors.As(err, &convErr) {
			trace.RecordError(span, err)
			span.End()
			p.log.WithError(err).Error("worker fault, pipeline failed")
			p.mu.Lock()
			p.state = StateFailed
			p.mu.Unlock()
			_ = p.be.Cleanup()
			return
		}
		span.End()

		if convErr.Retryable {
			converted, err = p.be.ConvertChunk(chunkCtx.Chunk, chunkCtx.Context)
			if err == nil {
				p.buf.WriteOutput(converted)
				health := p.buf.BufferHealth()
				chunkMs := float64(p.cfg.ChunkSize) / float64(p.cfg.SampleRate) * 1000
				outputBufMs := float64(health.OutputFill) / float64(p.cfg.SampleRate) * 1000
				p.met.RecordSuccess(float64(time.Since(t0).Milliseconds()), chunkMs, outputBufMs)
				continue
			}
		}

		p.log.WithField("detail", convErr.Detail).Warn("chunk conversion failed, substituting silence")
		p.met.RecordDrop()
		p.buf.WriteOutput(backend.Silence(p.cfg.ChunkSize))
	}
}
