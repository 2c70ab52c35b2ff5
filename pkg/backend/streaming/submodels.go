package streaming

// ContentEmbedder extracts a content representation from raw audio:
// float32[N] -> float32[T*D] flattened, T ~= N/320, D model-specific.
type ContentEmbedder interface {
	Embed(samples []float32) (features []float32, frames, dim int, err error)
}

// PitchPredictor estimates a pitch contour and voicing flags:
// float32[N] -> float32[T] plus per-frame voiced/unvoiced flags.
type PitchPredictor interface {
	Predict(samples []float32) (pitch []float32, voiced []bool, err error)
}

// SynthesisVocoder combines content features, pitch, and the retrieval
// index blend into converted audio: -> float32[M], M ~= N (+-1%).
type SynthesisVocoder interface {
	Synthesize(features []float32, frames, dim int, pitch []float32, voiced []bool, indexRate float64, pitchShift int) ([]float32, error)
}

// Submodels bundles the three neural collaborators the StreamingBackend
// depends on. All are stateless per call; the crossfade tail carried across
// chunks lives in Backend, and the left-context is passed to Backend on
// each call, not kept here.
type Submodels struct {
	ContentEmbedder  ContentEmbedder
	PitchPredictor   PitchPredictor
	SynthesisVocoder SynthesisVocoder
}
