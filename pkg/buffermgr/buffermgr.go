// Package buffermgr implements BufferManager: the input/context/output ring
// buffer trio a StreamingPipeline owns exclusively.
package buffermgr

import (
	"sync"

	"github.com/BasicFist/rwc/pkg/ringbuf"
)

// ChunkContext is the pair returned by ReadChunkForProcessing: a freshly
// read chunk and the left-context that precedes it.
type ChunkContext struct {
	Chunk   []float32
	Context []float32
}

// Health is a buffer_health() snapshot.
type Health struct {
	InputFill   int
	OutputFill  int
	ContextFill int
	InputDrops  uint64
	OutputDrops uint64
}

// Manager composes the three ring buffers for a single pipeline instance.
type Manager struct {
	chunkSize   int
	contextSize int

	inputBuf   *ringbuf.RingBuffer
	contextBuf *ringbuf.RingBuffer
	outputBuf  *ringbuf.RingBuffer

	// mu serializes read_chunk_for_processing's atomic chunk+context read
	// and context_buf update; it is distinct from the ring buffers' own
	// mutexes, which guard each buffer individually.
	mu sync.Mutex
}

// New builds a Manager. inputCapacity must be >= 2*chunkSize and
// outputCapacity >= 4*chunkSize per spec; contextSize is CS/4.
func New(chunkSize, contextSize, inputCapacity, outputCapacity int) *Manager {
	if inputCapacity < 2*chunkSize {
		inputCapacity = 2 * chunkSize
	}
	if outputCapacity < 4*chunkSize {
		outputCapacity = 4 * chunkSize
	}
	if contextSize < 1 {
		contextSize = 1
	}
	return &Manager{
		chunkSize:   chunkSize,
		contextSize: contextSize,
		inputBuf:    ringbuf.New(inputCapacity),
		contextBuf:  ringbuf.New(contextSize),
		outputBuf:   ringbuf.New(outputCapacity),
	}
}

// WriteInput appends captured samples to input_buf. Called by AudioIO
// capture; non-blocking beyond a brief mutex hold.
func (m *Manager) WriteInput(samples []float32) {
	m.inputBuf.Write(samples)
}

// HasChunkReady reports whether input_buf holds at least one full chunk.
func (m *Manager) HasChunkReady() bool {
	return m.inputBuf.Size() >= m.chunkSize
}

// ReadChunkForProcessing atomically reads one chunk plus the current
// left-context, then updates context_buf to the last context_size samples
// of the chunk just read. Returns ok=false if input_buf holds less than a
// full chunk.
func (m *Manager) ReadChunkForProcessing() (cc ChunkContext, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inputBuf.Size() < m.chunkSize {
		return ChunkContext{}, false
	}

	chunk := m.inputBuf.Read(m.chunkSize)
	context := m.contextBuf.Peek(m.contextSize)

	tailStart := len(chunk) - m.contextSize
	if tailStart < 0 {
		tailStart = 0
	}
	m.contextBuf.Clear()
	m.contextBuf.Write(chunk[tailStart:])

	return ChunkContext{Chunk: chunk, Context: context}, true
}

// WriteOutput appends converted samples to output_buf. Called by the
// inference worker.
func (m *Manager) WriteOutput(samples []float32) {
	m.outputBuf.Write(samples)
}

// ReadOutput returns up to n samples from output_buf, FIFO. Called by
// AudioIO playback.
func (m *Manager) ReadOutput(n int) []float32 {
	return m.outputBuf.Read(n)
}

// BufferHealth returns a non-blocking snapshot of fill levels and drop
// counts.
func (m *Manager) BufferHealth() Health {
	return Health{
		InputFill:   m.inputBuf.Size(),
		OutputFill:  m.outputBuf.Size(),
		ContextFill: m.contextBuf.Size(),
		InputDrops:  m.inputBuf.Drops(),
		OutputDrops: m.outputBuf.Drops(),
	}
}

// Reset clears all three buffers and their drop counters. Callers must
// ensure the owning pipeline is not Running.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputBuf.Clear()
	m.inputBuf.ResetDrops()
	m.contextBuf.Clear()
	m.contextBuf.ResetDrops()
	m.outputBuf.Clear()
	m.outputBuf.ResetDrops()
}

// ChunkSize returns the configured chunk size.
func (m *Manager) ChunkSize() int { return m.chunkSize }

// ContextSize returns the configured context size.
func (m *Manager) ContextSize() int { return m.contextSize }
