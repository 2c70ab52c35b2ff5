package pipeline

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BasicFist/rwc/pkg/backend"
	"github.com/BasicFist/rwc/pkg/convconfig"
	"github.com/BasicFist/rwc/pkg/rvcerr"
)

func testConfig(t *testing.T, chunkSize int) *convconfig.Config {
	t.Helper()
	cfg, err := convconfig.New("test-model", chunkSize, convconfig.WorkingSampleRate, 0, 0.75, convconfig.PitchMethodRMVPE, convconfig.BackendBatchAdapter)
	require.NoError(t, err)
	return cfg.WithBatchAdapterCommand("true")
}

func waitForOutput(t *testing.T, p *Pipeline, want int, timeout time.Duration) []float32 {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var got []float32
	for time.Now().Before(deadline) {
		got = append(got, p.GetOutput(want-len(got))...)
		if len(got) >= want {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	return got
}

func TestProcessInputRejectsNaNAndInf(t *testing.T) {
	cfg := testConfig(t, 1024)
	p := New(cfg, backend.NewPassthroughBackend(), nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	nanInput := make([]float32, cfg.ChunkSize)
	nanInput[3] = float32(math.NaN())
	var verr *rvcerr.ValidationError
	err := p.ProcessInput(nanInput)
	require.Error(t, err)
	require.ErrorAs(t, err, &verr)

	infInput := make([]float32, cfg.ChunkSize)
	infInput[7] = float32(math.Inf(1))
	err = p.ProcessInput(infInput)
	require.Error(t, err)
	require.ErrorAs(t, err, &verr)

	got := p.GetOutput(cfg.ChunkSize)
	assert.Empty(t, got)
}

func TestStartTransitionsToRunning(t *testing.T) {
	cfg := testConfig(t, 1024)
	p := New(cfg, backend.NewPassthroughBackend(), nil)
	require.NoError(t, p.Start())
	assert.Equal(t, StateRunning, p.State())
	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
}

func TestStopIsIdempotent(t *testing.T) {
	cfg := testConfig(t, 1024)
	p := New(cfg, backend.NewPassthroughBackend(), nil)
	require.NoError(t, p.Start())
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
}

func TestStopOnCreatedPipelineIsNoop(t *testing.T) {
	cfg := testConfig(t, 1024)
	p := New(cfg, backend.NewPassthroughBackend(), nil)
	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
}

func TestConcurrentStartStopMonotonic(t *testing.T) {
	cfg := testConfig(t, 1024)
	p := New(cfg, backend.NewPassthroughBackend(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Start()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateRunning, p.State())

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Stop()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateStopped, p.State())
}

func TestPassThroughIdentityEndToEnd(t *testing.T) {
	cfg := testConfig(t, 1024)
	p := New(cfg, backend.NewPassthroughBackend(), nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	input := make([]float32, 4*cfg.ChunkSize)
	for i := range input {
		input[i] = float32(i % 7)
	}
	require.NoError(t, p.ProcessInput(input))

	got := waitForOutput(t, p, len(input), 2*time.Second)
	require.Len(t, got, len(input))
	assert.Equal(t, input, got)
}

func TestBackendFailureAbsorptionProducesSilence(t *testing.T) {
	cfg := testConfig(t, 4096)
	mb := backend.NewMockBackend()
	mb.ConvertFunc = func(chunk, context []float32) ([]float32, error) {
		return nil, rvcerr.NewBackendConvertError(false, "synthetic failure", nil)
	}
	p := New(cfg, mb, nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	input := make([]float32, 12*cfg.ChunkSize)
	require.NoError(t, p.ProcessInput(input))

	got := waitForOutput(t, p, 12*cfg.ChunkSize, 2*time.Second)
	assert.Len(t, got, 12*cfg.ChunkSize)
	for _, s := range got {
		assert.Equal(t, float32(0), s)
	}
	snap := p.Metrics()
	assert.EqualValues(t, 0, snap.ChunksProcessed)
	assert.EqualValues(t, 12, snap.ChunksDropped)
	assert.Equal(t, StateRunning, p.State())
}

func TestCrashFreeUnderOverload(t *testing.T) {
	cfg := testConfig(t, 4096)
	chunkMs := float64(cfg.ChunkSize) / float64(cfg.SampleRate) * 1000
	mb := backend.NewMockBackend()
	mb.ConvertFunc = func(chunk, context []float32) ([]float32, error) {
		time.Sleep(time.Duration(2*chunkMs) * time.Millisecond)
		return backend.Silence(len(chunk)), nil
	}
	p := New(cfg, mb, nil)
	require.NoError(t, p.Start())

	for i := 0; i < 4; i++ {
		require.NoError(t, p.ProcessInput(make([]float32, cfg.ChunkSize)))
	}

	done := make(chan error, 1)
	go func() { done <- p.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not complete within bound")
	}
}

func TestOrderingUnderBurstInput(t *testing.T) {
	cfg := testConfig(t, 1024)
	p := New(cfg, backend.NewPassthroughBackend(), nil)
	require.NoError(t, p.Start())
	defer p.Stop()

	input := make([]float32, 10*cfg.ChunkSize)
	for i := range input {
		input[i] = float32(i)
	}
	require.NoError(t, p.ProcessInput(input))

	got := waitForOutput(t, p, len(input), 2*time.Second)
	require.Len(t, got, len(input))
	assert.Equal(t, input, got)
}
