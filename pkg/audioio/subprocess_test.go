package audioio

import (
	"context"
	"math"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakePipe is a PipelineHandle test double: GetOutput drains a preset
// sample queue, ProcessInput records whatever it's handed.
type fakePipe struct {
	mu       sync.Mutex
	output   []float32
	received [][]float32
}

func (f *fakePipe) ProcessInput(samples []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	f.received = append(f.received, cp)
	return nil
}

func (f *fakePipe) GetOutput(n int) []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.output) == 0 {
		return nil
	}
	if n > len(f.output) {
		n = len(f.output)
	}
	out := f.output[:n]
	f.output = f.output[n:]
	return out
}

func (f *fakePipe) receivedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

// TestSubprocessIORoundTripsFramesThroughLoopback uses "cat" as the
// external sub-process: it echoes stdin to stdout byte-for-byte, so the
// length-prefixed frames SubprocessIO writes come straight back, exercising
// the Opus encode/decode and wire-framing path against a real process
// without depending on an actual RVC converter binary.
func TestSubprocessIORoundTripsFramesThroughLoopback(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("cat is not available as a loopback process on windows")
	}

	samples := make([]float32, opusFrameSamples*3)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 20))
	}
	pipe := &fakePipe{output: append([]float32{}, samples...)}

	s := NewSubprocessIO([]string{"cat"}, pipe, logrus.StandardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for pipe.receivedCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.GreaterOrEqual(t, pipe.receivedCount(), 1)
}

func TestSubprocessIOStopIsBounded(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("cat is not available as a loopback process on windows")
	}

	pipe := &fakePipe{}
	s := NewSubprocessIO([]string{"cat"}, pipe, logrus.StandardLogger())
	require.NoError(t, s.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stop did not complete within bound")
	}
}

func TestNewSubprocessIORejectsEmptyArgv(t *testing.T) {
	pipe := &fakePipe{}
	s := NewSubprocessIO(nil, pipe, logrus.StandardLogger())
	require.Error(t, s.Start(context.Background()))
}
