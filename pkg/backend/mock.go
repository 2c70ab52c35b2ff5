package backend

import "sync"

// PassthroughBackend returns its input chunk unchanged, ignoring context.
// Used by the pass-through identity end-to-end test scenario and by
// callers exercising the pipeline without a real model.
type PassthroughBackend struct {
	mu            sync.Mutex
	initCalled    bool
	cleanupCalled bool
	convertCalls  int
}

var _ ConversionBackend = (*PassthroughBackend)(nil)

// NewPassthroughBackend returns a ready-to-use PassthroughBackend.
func NewPassthroughBackend() *PassthroughBackend {
	return &PassthroughBackend{}
}

func (p *PassthroughBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initCalled = true
	return nil
}

func (p *PassthroughBackend) ConvertChunk(chunk, context []float32) ([]float32, error) {
	p.mu.Lock()
	p.convertCalls++
	p.mu.Unlock()
	out := make([]float32, len(chunk))
	copy(out, chunk)
	return out, nil
}

func (p *PassthroughBackend) Cleanup() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupCalled = true
	return nil
}

// ConvertCalls returns the number of ConvertChunk invocations so far.
func (p *PassthroughBackend) ConvertCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.convertCalls
}

// MockBackend is an injectable test double: ConvertFunc, when set,
// determines ConvertChunk's behavior; otherwise it echoes the input chunk.
// It records every call for assertions, mirroring the teacher's
// MockDetector style.
type MockBackend struct {
	mu sync.Mutex

	ConvertFunc func(chunk, context []float32) ([]float32, error)
	InitErr     error

	InitCalled    bool
	CleanupCalled bool
	ConvertCalls  [][]float32
}

var _ ConversionBackend = (*MockBackend)(nil)

// NewMockBackend returns a MockBackend that echoes its input by default.
func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (m *MockBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InitCalled = true
	return m.InitErr
}

func (m *MockBackend) ConvertChunk(chunk, context []float32) ([]float32, error) {
	m.mu.Lock()
	cp := make([]float32, len(chunk))
	copy(cp, chunk)
	m.ConvertCalls = append(m.ConvertCalls, cp)
	fn := m.ConvertFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(chunk, context)
	}
	out := make([]float32, len(chunk))
	copy(out, chunk)
	return out, nil
}

func (m *MockBackend) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CleanupCalled = true
	return nil
}

// CallCount returns the number of ConvertChunk invocations so far.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ConvertCalls)
}
