// Package convconfig defines ConversionConfig, the immutable bundle frozen
// at pipeline creation that drives both buffer sizing and backend
// selection.
package convconfig

import (
	"fmt"

	"github.com/BasicFist/rwc/pkg/rvcerr"
)

// Backend selects which ConversionBackend implementation a pipeline uses.
type Backend int

const (
	// BackendBatchAdapter wraps an external file-batch converter process.
	BackendBatchAdapter Backend = iota
	// BackendStreaming runs direct in-memory neural inference.
	BackendStreaming
)

func (b Backend) String() string {
	switch b {
	case BackendBatchAdapter:
		return "batch_adapter"
	case BackendStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// PitchMethod selects the pitch-extraction algorithm.
type PitchMethod int

const (
	// PitchMethodRMVPE uses the neural RMVPE pitch predictor.
	PitchMethodRMVPE PitchMethod = iota
	// PitchMethodFallback uses a classical pitch-tracking algorithm.
	PitchMethodFallback
)

func (p PitchMethod) String() string {
	switch p {
	case PitchMethodRMVPE:
		return "rmvpe"
	case PitchMethodFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

const (
	// MinChunkSize is the smallest accepted chunk_size, in samples.
	MinChunkSize = 1024
	// MaxChunkSize is the largest accepted chunk_size, in samples.
	MaxChunkSize = 16384
	// WorkingSampleRate is the only mandatory sample_rate value.
	WorkingSampleRate = 48000
	// MinPitchShift is the smallest accepted pitch_shift, in semitones.
	MinPitchShift = -24
	// MaxPitchShift is the largest accepted pitch_shift, in semitones.
	MaxPitchShift = 24
)

// Config is an immutable ConversionConfig, validated once at construction.
type Config struct {
	ModelID     string
	ChunkSize   int
	SampleRate  int
	PitchShift  int
	IndexRate   float64
	PitchMethod PitchMethod
	Backend     Backend

	// BatchAdapter-specific options, ignored by StreamingBackend.
	ConverterCommand string

	// StreamingBackend-specific options, ignored by BatchAdapter.
	ContentEmbedderModelPath string
	PitchPredictorModelPath  string
	SynthesisModelPath       string
}

// ContextSize returns the left-context width, CS/4 samples, used by
// BufferManager's context buffer and StreamingBackend's context
// concatenation.
func (c *Config) ContextSize() int {
	return c.ChunkSize / 4
}

// FadeLen returns the crossfade width used by StreamingBackend:
// max(1, round(0.1 * chunk_size)).
func (c *Config) FadeLen() int {
	fl := int(float64(c.ChunkSize)*0.1 + 0.5)
	if fl < 1 {
		fl = 1
	}
	return fl
}

// New validates fields and returns an immutable Config, or a
// *rvcerr.ValidationError describing the first offending field.
func New(modelID string, chunkSize, sampleRate, pitchShift int, indexRate float64, pitchMethod PitchMethod, backend Backend) (*Config, error) {
	if modelID == "" {
		return nil, rvcerr.NewValidationError("model_id", modelID, "must not be empty")
	}
	if chunkSize < MinChunkSize || chunkSize > MaxChunkSize {
		return nil, rvcerr.NewValidationError("chunk_size", chunkSize,
			fmt.Sprintf("must be in [%d,%d]", MinChunkSize, MaxChunkSize))
	}
	if sampleRate != WorkingSampleRate {
		return nil, rvcerr.NewValidationError("sample_rate", sampleRate,
			fmt.Sprintf("only %d is mandatory", WorkingSampleRate))
	}
	if pitchShift < MinPitchShift || pitchShift > MaxPitchShift {
		return nil, rvcerr.NewValidationError("pitch_shift", pitchShift,
			fmt.Sprintf("must be in [%d,%d]", MinPitchShift, MaxPitchShift))
	}
	if indexRate < 0.0 || indexRate > 1.0 {
		return nil, rvcerr.NewValidationError("index_rate", indexRate, "must be in [0.0,1.0]")
	}
	if pitchMethod != PitchMethodRMVPE && pitchMethod != PitchMethodFallback {
		return nil, rvcerr.NewValidationError("pitch_method", pitchMethod, "must be RMVPE or fallback")
	}
	if backend != BackendBatchAdapter && backend != BackendStreaming {
		return nil, rvcerr.NewValidationError("backend", backend, "must be BatchAdapter or StreamingBackend")
	}

	return &Config{
		ModelID:     modelID,
		ChunkSize:   chunkSize,
		SampleRate:  sampleRate,
		PitchShift:  pitchShift,
		IndexRate:   indexRate,
		PitchMethod: pitchMethod,
		Backend:     backend,
	}, nil
}

// WithBatchAdapterCommand sets the external converter command line on a
// copy of c. Intended to be chained after New.
func (c *Config) WithBatchAdapterCommand(cmd string) *Config {
	cp := *c
	cp.ConverterCommand = cmd
	return &cp
}

// WithStreamingModels sets the three neural submodel paths on a copy of c.
func (c *Config) WithStreamingModels(contentEmbedder, pitchPredictor, synthesis string) *Config {
	cp := *c
	cp.ContentEmbedderModelPath = contentEmbedder
	cp.PitchPredictorModelPath = pitchPredictor
	cp.SynthesisModelPath = synthesis
	return &cp
}
