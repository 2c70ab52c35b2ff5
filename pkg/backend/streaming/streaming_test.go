package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BasicFist/rwc/pkg/convconfig"
)

// identitySubmodels wires a no-op model: the embedder passes its samples
// through as features, the predictor returns zeros, and the vocoder
// returns those features, i.e. its (context+chunk) input unchanged,
// so Backend.ConvertChunk behaves as an identity transform modulo the
// context-prefix discard and crossfade, letting the crossfade math be
// tested bit-exactly.
type identitySubmodels struct{}

func (identitySubmodels) Embed(samples []float32) ([]float32, int, int, error) {
	return samples, len(samples), 1, nil
}

func (identitySubmodels) Predict(samples []float32) ([]float32, []bool, error) {
	return make([]float32, len(samples)), make([]bool, len(samples)), nil
}

type identityVocoder struct{ input []float32 }

func (v *identityVocoder) Synthesize(features []float32, frames, dim int, pitch []float32, voiced []bool, indexRate float64, pitchShift int) ([]float32, error) {
	return features, nil
}

func testConfig(t *testing.T) *convconfig.Config {
	t.Helper()
	cfg, err := convconfig.New("test-model", 1024, convconfig.WorkingSampleRate, 0, 0.75, convconfig.PitchMethodRMVPE, convconfig.BackendStreaming)
	require.NoError(t, err)
	return cfg
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	cfg := testConfig(t)
	sub := Submodels{
		ContentEmbedder:  identitySubmodels{},
		PitchPredictor:   identitySubmodels{},
		SynthesisVocoder: &identityVocoder{},
	}
	b := New(cfg, sub, nil)
	require.NoError(t, b.Initialize())
	return b
}

func TestFirstChunkNoContextNoCrash(t *testing.T) {
	b := newTestBackend(t)
	chunk := make([]float32, 1024)
	for i := range chunk {
		chunk[i] = float32(i) / 1024
	}
	out, err := b.ConvertChunk(chunk, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1024)
}

func TestFirstChunkEmittedWithoutCrossfade(t *testing.T) {
	b := newTestBackend(t)
	chunk := make([]float32, 1024)
	for i := range chunk {
		chunk[i] = 1.0
	}
	out, err := b.ConvertChunk(chunk, nil)
	require.NoError(t, err)
	assert.Equal(t, chunk, out)
}

func TestCrossfadeBlendsTailIntoHead(t *testing.T) {
	b := newTestBackend(t)
	fadeLen := b.cfg.FadeLen()

	chunkA := make([]float32, 1024)
	for i := range chunkA {
		chunkA[i] = 1.0
	}
	outA, err := b.ConvertChunk(chunkA, nil)
	require.NoError(t, err)

	chunkB := make([]float32, 1024)
	for i := range chunkB {
		chunkB[i] = 0.0
	}
	outB, err := b.ConvertChunk(chunkB, nil)
	require.NoError(t, err)

	// A's tail is all 1.0; B's head is all 0.0 before blending. The blended
	// region must be strictly decreasing (monotone) and A/B away from the
	// fade region must be unmodified.
	for i := 1; i < fadeLen; i++ {
		assert.Less(t, outB[i], outB[i-1])
	}
	assert.InDelta(t, 0.0, outB[fadeLen-1], 1.0/float64(fadeLen)+1e-3)
	assert.Equal(t, float32(1.0), outA[len(outA)-1])
	for i := fadeLen; i < len(outB); i++ {
		assert.Equal(t, float32(0.0), outB[i])
	}
}

func TestPeakNormalizeLeavesSubUnityUnchanged(t *testing.T) {
	in := []float32{0.1, -0.2, 0.5}
	out := peakNormalize(in)
	assert.Equal(t, in, out)
}

func TestPeakNormalizeScalesDownAboveUnity(t *testing.T) {
	in := []float32{2.0, -1.0, 0.5}
	out := peakNormalize(in)
	assert.InDelta(t, 1.0, out[0], 1e-6)
}

func TestFitWithinContractPadsSmallDeviation(t *testing.T) {
	out, err := fitWithinContract(make([]float32, 1020), 1024)
	require.NoError(t, err)
	assert.Len(t, out, 1024)
}

func TestFitWithinContractRejectsLargeDeviation(t *testing.T) {
	_, err := fitWithinContract(make([]float32, 800), 1024)
	assert.Error(t, err)
}

func TestCleanupResetsState(t *testing.T) {
	b := newTestBackend(t)
	chunk := make([]float32, 1024)
	_, err := b.ConvertChunk(chunk, nil)
	require.NoError(t, err)
	require.NoError(t, b.Cleanup())
	require.NoError(t, b.Initialize())
	b.mu.Lock()
	tail := b.prevTail
	b.mu.Unlock()
	assert.Nil(t, tail)
}
