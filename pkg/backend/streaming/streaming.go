// Package streaming implements the StreamingBackend ConversionBackend:
// direct in-memory neural inference with context carry-over and a linear
// crossfade to hide chunk-boundary seams.
package streaming

import (
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/BasicFist/rwc/pkg/convconfig"
	"github.com/BasicFist/rwc/pkg/rvcerr"
)

// contractTolerance is the allowed relative deviation between the model
// output length (after discarding the context prefix) and the chunk size
// before it is treated as a model-contract violation.
const contractTolerance = 0.01

// Backend implements backend.ConversionBackend against three neural
// submodels, maintaining crossfade state across calls. The left-context is
// supplied by the caller on each ConvertChunk call.
type Backend struct {
	cfg  *convconfig.Config
	sub  Submodels
	log  *logrus.Logger

	mu       sync.Mutex
	prevTail []float32 // last fade_len samples of the previously emitted chunk
	started  bool
}

// New builds a Backend. Submodels must already be constructed (loaded by
// the caller in the //go:build streaming submodel factory) — Initialize
// only checks they are present and resets crossfade state.
func New(cfg *convconfig.Config, sub Submodels, log *logrus.Logger) *Backend {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Backend{cfg: cfg, sub: sub, log: log}
}

// Initialize verifies the submodels are present and resets state. The
// submodels themselves are loaded by the caller before constructing the
// Backend, since loading them is the expensive, potentially failing step
// spec.md attributes to "initialize".
func (b *Backend) Initialize() error {
	if b.sub.ContentEmbedder == nil || b.sub.PitchPredictor == nil || b.sub.SynthesisVocoder == nil {
		return rvcerr.NewBackendInitError("streaming", fmt.Errorf("submodels not fully loaded"))
	}
	b.mu.Lock()
	b.prevTail = nil
	b.started = true
	b.mu.Unlock()
	return nil
}

// ConvertChunk runs the neural conversion pipeline on chunk with context
// prepended, then crossfades the result against the previous chunk's tail.
func (b *Backend) ConvertChunk(chunk, context []float32) ([]float32, error) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil, rvcerr.NewBackendConvertError(false, "backend not initialized", nil)
	}
	prevTail := b.prevTail
	b.mu.Unlock()

	normalized := peakNormalize(chunk)

	modelInput := make([]float32, 0, len(context)+len(normalized))
	modelInput = append(modelInput, context...)
	modelInput = append(modelInput, normalized...)

	features, frames, dim, err := b.sub.ContentEmbedder.Embed(modelInput)
	if err != nil {
		return nil, rvcerr.NewBackendConvertError(true, "content embedding failed", err)
	}
	pitch, voiced, err := b.sub.PitchPredictor.Predict(modelInput)
	if err != nil {
		return nil, rvcerr.NewBackendConvertError(true, "pitch prediction failed", err)
	}
	rawOut, err := b.sub.SynthesisVocoder.Synthesize(features, frames, dim, pitch, voiced, b.cfg.IndexRate, b.cfg.PitchShift)
	if err != nil {
		return nil, rvcerr.NewBackendConvertError(true, "synthesis failed", err)
	}

	contextLen := len(context)
	if contextLen > len(rawOut) {
		return nil, rvcerr.NewBackendConvertError(false, "model output shorter than context prefix", nil)
	}
	converted := rawOut[contextLen:]

	converted, err = fitWithinContract(converted, len(chunk))
	if err != nil {
		return nil, rvcerr.NewBackendConvertError(false, err.Error(), nil)
	}

	fadeLen := b.cfg.FadeLen()
	blended := applyCrossfade(converted, prevTail, fadeLen)

	newTail := lastN(blended, fadeLen)
	b.mu.Lock()
	b.prevTail = newTail
	b.mu.Unlock()

	return blended, nil
}

// Cleanup clears crossfade state. Idempotent; re-running Initialize
// restores a clean state.
func (b *Backend) Cleanup() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prevTail = nil
	b.started = false
	return nil
}

// peakNormalize scales samples down only if their peak exceeds 1.0;
// otherwise it returns them unchanged.
func peakNormalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		a := s
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}
	}
	if peak <= 1.0 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

// fitWithinContract pads or trims out to exactly want samples if the
// deviation is within contractTolerance; a larger deviation is a model
// contract violation.
func fitWithinContract(out []float32, want int) ([]float32, error) {
	if len(out) == want {
		return out, nil
	}
	deviation := math.Abs(float64(len(out)-want)) / float64(want)
	if deviation > contractTolerance {
		return nil, fmt.Errorf("model output length %d deviates from chunk size %d by more than 1%%", len(out), want)
	}
	if len(out) > want {
		return out[:want], nil
	}
	padded := make([]float32, want)
	copy(padded, out)
	return padded, nil
}

// applyCrossfade replaces the first fadeLen samples of curr with a linear
// blend against prevTail's last fadeLen samples. The first chunk carries no
// prevTail and is emitted unmodified, never a fade-in from silence.
func applyCrossfade(curr, prevTail []float32, fadeLen int) []float32 {
	if fadeLen <= 0 || len(curr) == 0 || len(prevTail) == 0 {
		return curr
	}
	if fadeLen > len(curr) {
		fadeLen = len(curr)
	}

	out := make([]float32, len(curr))
	copy(out, curr)

	tail := prevTail
	if len(tail) > fadeLen {
		tail = tail[len(tail)-fadeLen:]
	}

	for i := 0; i < fadeLen; i++ {
		var prevSample float32
		if i < len(tail) {
			prevSample = tail[i]
		}
		frac := float32(i) / float32(fadeLen)
		out[i] = prevSample*(1-frac) + curr[i]*frac
	}
	return out
}

func lastN(samples []float32, n int) []float32 {
	if n <= 0 {
		return nil
	}
	if n > len(samples) {
		n = len(samples)
	}
	tail := make([]float32, n)
	copy(tail, samples[len(samples)-n:])
	return tail
}
