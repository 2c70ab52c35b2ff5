package buffermgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestReadChunkForProcessingNotReady(t *testing.T) {
	m := New(1024, 256, 2048, 4096)
	m.WriteInput(seq(100, 0))
	_, ok := m.ReadChunkForProcessing()
	assert.False(t, ok)
}

func TestReadChunkForProcessingFirstCallEmptyContext(t *testing.T) {
	m := New(1024, 256, 2048, 4096)
	m.WriteInput(seq(1024, 0))
	cc, ok := m.ReadChunkForProcessing()
	require.True(t, ok)
	assert.Len(t, cc.Chunk, 1024)
	assert.Empty(t, cc.Context)
}

func TestContextContinuity(t *testing.T) {
	m := New(1024, 256, 4096, 4096)
	m.WriteInput(seq(1024, 0))
	cc1, ok := m.ReadChunkForProcessing()
	require.True(t, ok)
	wantCtx := cc1.Chunk[len(cc1.Chunk)-256:]

	m.WriteInput(seq(1024, 1000))
	cc2, ok := m.ReadChunkForProcessing()
	require.True(t, ok)
	assert.Equal(t, wantCtx, cc2.Context)
}

func TestWriteOutputReadOutputFIFO(t *testing.T) {
	m := New(1024, 256, 2048, 4096)
	m.WriteOutput(seq(512, 0))
	m.WriteOutput(seq(512, 1000))
	out := m.ReadOutput(1024)
	assert.Equal(t, seq(512, 0), out[:512])
	assert.Equal(t, seq(512, 1000), out[512:])
}

func TestBufferHealth(t *testing.T) {
	m := New(1024, 256, 2048, 4096)
	m.WriteInput(seq(500, 0))
	m.WriteOutput(seq(300, 0))
	h := m.BufferHealth()
	assert.Equal(t, 500, h.InputFill)
	assert.Equal(t, 300, h.OutputFill)
	assert.Equal(t, 0, h.ContextFill)
}

func TestResetClearsBuffersAndDrops(t *testing.T) {
	m := New(64, 16, 64, 64)
	m.WriteInput(seq(200, 0)) // overflow, drops > 0
	m.WriteOutput(seq(200, 0))
	m.Reset()
	h := m.BufferHealth()
	assert.Zero(t, h.InputFill)
	assert.Zero(t, h.OutputFill)
	assert.Zero(t, h.InputDrops)
	assert.Zero(t, h.OutputDrops)
}

func TestMinimumCapacitiesEnforced(t *testing.T) {
	m := New(1024, 256, 10, 10)
	assert.GreaterOrEqual(t, m.inputBuf.Capacity(), 2*1024)
	assert.GreaterOrEqual(t, m.outputBuf.Capacity(), 4*1024)
}
