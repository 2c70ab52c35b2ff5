// ONNX Runtime-backed implementations of the three neural submodels
// StreamingBackend depends on. Gated behind a build tag, mirroring the
// teacher's own gating of its ONNX-dependent VAD detector, since loading
// these models requires the onnxruntime shared library to be present on
// the host.
//
//go:build streaming

package streaming

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/BasicFist/rwc/pkg/convconfig"
	"github.com/BasicFist/rwc/pkg/rvcerr"
)

var (
	runtimeInitialized bool
	runtimeMu          sync.Mutex
)

// InitRuntime initializes the process-wide ONNX Runtime environment.
// libraryPath may be empty to auto-detect the shared library location.
// Call once at process startup before loading any submodels.
func InitRuntime(libraryPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if runtimeInitialized {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	} else if p := findONNXRuntimeLibrary(); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	runtimeInitialized = true
	return nil
}

// DestroyRuntime tears down the process-wide ONNX Runtime environment.
func DestroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !runtimeInitialized {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("failed to destroy ONNX runtime: %w", err)
	}
	runtimeInitialized = false
	return nil
}

func findONNXRuntimeLibrary() string {
	paths := []string{
		os.Getenv("ONNXRUNTIME_LIB"),
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/onnxruntime/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
		for _, dir := range filepath.SplitList(ldPath) {
			paths = append(paths, filepath.Join(dir, "libonnxruntime.so"))
		}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func ensureRuntime() error {
	runtimeMu.Lock()
	initialized := runtimeInitialized
	runtimeMu.Unlock()
	if initialized {
		return nil
	}
	return InitRuntime("")
}

func newSession(modelPath string, inputNames, outputNames []string) (*ort.DynamicAdvancedSession, error) {
	if err := ensureRuntime(); err != nil {
		return nil, err
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()
	_ = options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
	_ = options.SetIntraOpNumThreads(1)
	_ = options.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for %s: %w", modelPath, err)
	}
	return session, nil
}

// onnxContentEmbedder wraps a content-embedding ONNX model:
// float32[N] -> float32[T,D].
type onnxContentEmbedder struct {
	session *ort.DynamicAdvancedSession
	dim     int
}

func newContentEmbedder(modelPath string, dim int) (*onnxContentEmbedder, error) {
	session, err := newSession(modelPath, []string{"audio"}, []string{"features"})
	if err != nil {
		return nil, err
	}
	return &onnxContentEmbedder{session: session, dim: dim}, nil
}

func (e *onnxContentEmbedder) Embed(samples []float32) ([]float32, int, int, error) {
	inputShape := ort.NewShape(1, int64(len(samples)))
	input, err := ort.NewTensor(inputShape, samples)
	if err != nil {
		return nil, 0, 0, err
	}
	defer input.Destroy()

	frames := len(samples) / 320
	if frames < 1 {
		frames = 1
	}
	outShape := ort.NewShape(1, int64(frames), int64(e.dim))
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, 0, 0, err
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, 0, 0, err
	}
	data := output.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, frames, e.dim, nil
}

func (e *onnxContentEmbedder) Destroy() error {
	if e.session == nil {
		return nil
	}
	return e.session.Destroy()
}

// onnxPitchPredictor wraps the RMVPE pitch-estimation ONNX model:
// float32[N] -> float32[T] plus voiced flags.
type onnxPitchPredictor struct {
	session *ort.DynamicAdvancedSession
}

func newPitchPredictor(modelPath string) (*onnxPitchPredictor, error) {
	session, err := newSession(modelPath, []string{"audio"}, []string{"pitch", "voiced"})
	if err != nil {
		return nil, err
	}
	return &onnxPitchPredictor{session: session}, nil
}

func (p *onnxPitchPredictor) Predict(samples []float32) ([]float32, []bool, error) {
	inputShape := ort.NewShape(1, int64(len(samples)))
	input, err := ort.NewTensor(inputShape, samples)
	if err != nil {
		return nil, nil, err
	}
	defer input.Destroy()

	frames := len(samples) / 320
	if frames < 1 {
		frames = 1
	}
	pitchShape := ort.NewShape(1, int64(frames))
	pitchOut, err := ort.NewEmptyTensor[float32](pitchShape)
	if err != nil {
		return nil, nil, err
	}
	defer pitchOut.Destroy()

	voicedOut, err := ort.NewEmptyTensor[float32](pitchShape)
	if err != nil {
		return nil, nil, err
	}
	defer voicedOut.Destroy()

	if err := p.session.Run([]ort.Value{input}, []ort.Value{pitchOut, voicedOut}); err != nil {
		return nil, nil, err
	}

	pitchData := pitchOut.GetData()
	pitch := make([]float32, len(pitchData))
	copy(pitch, pitchData)

	voicedData := voicedOut.GetData()
	voiced := make([]bool, len(voicedData))
	for i, v := range voicedData {
		voiced[i] = v > 0.5
	}
	return pitch, voiced, nil
}

func (p *onnxPitchPredictor) Destroy() error {
	if p.session == nil {
		return nil
	}
	return p.session.Destroy()
}

// onnxSynthesisVocoder wraps the synthesis network + vocoder ONNX model:
// (content_features, pitch, index_blend, pitch_shift) -> float32[M].
type onnxSynthesisVocoder struct {
	session *ort.DynamicAdvancedSession
}

func newSynthesisVocoder(modelPath string) (*onnxSynthesisVocoder, error) {
	session, err := newSession(modelPath,
		[]string{"features", "pitch", "index_rate", "pitch_shift"},
		[]string{"audio"})
	if err != nil {
		return nil, err
	}
	return &onnxSynthesisVocoder{session: session}, nil
}

func (v *onnxSynthesisVocoder) Synthesize(features []float32, frames, dim int, pitch []float32, voiced []bool, indexRate float64, pitchShift int) ([]float32, error) {
	featShape := ort.NewShape(1, int64(frames), int64(dim))
	featTensor, err := ort.NewTensor(featShape, features)
	if err != nil {
		return nil, err
	}
	defer featTensor.Destroy()

	pitchShape := ort.NewShape(1, int64(len(pitch)))
	pitchTensor, err := ort.NewTensor(pitchShape, pitch)
	if err != nil {
		return nil, err
	}
	defer pitchTensor.Destroy()

	indexTensor, err := ort.NewTensor(ort.NewShape(1), []float32{float32(indexRate)})
	if err != nil {
		return nil, err
	}
	defer indexTensor.Destroy()

	shiftTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(pitchShift)})
	if err != nil {
		return nil, err
	}
	defer shiftTensor.Destroy()

	outLen := frames * 320
	outShape := ort.NewShape(1, int64(outLen))
	output, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, err
	}
	defer output.Destroy()

	inputs := []ort.Value{featTensor, pitchTensor, indexTensor, shiftTensor}
	if err := v.session.Run(inputs, []ort.Value{output}); err != nil {
		return nil, err
	}
	data := output.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (v *onnxSynthesisVocoder) Destroy() error {
	if v.session == nil {
		return nil
	}
	return v.session.Destroy()
}

// LoadONNXSubmodels loads the three submodels referenced by cfg, returning
// a Submodels bundle ready to pass to New. Failures are wrapped as
// *rvcerr.BackendInitError.
func LoadONNXSubmodels(cfg *convconfig.Config, featureDim int) (Submodels, func() error, error) {
	embedder, err := newContentEmbedder(cfg.ContentEmbedderModelPath, featureDim)
	if err != nil {
		return Submodels{}, nil, rvcerr.NewBackendInitError("streaming", err)
	}
	predictor, err := newPitchPredictor(cfg.PitchPredictorModelPath)
	if err != nil {
		embedder.Destroy()
		return Submodels{}, nil, rvcerr.NewBackendInitError("streaming", err)
	}
	vocoder, err := newSynthesisVocoder(cfg.SynthesisModelPath)
	if err != nil {
		embedder.Destroy()
		predictor.Destroy()
		return Submodels{}, nil, rvcerr.NewBackendInitError("streaming", err)
	}

	release := func() error {
		_ = embedder.Destroy()
		_ = predictor.Destroy()
		_ = vocoder.Destroy()
		return nil
	}

	return Submodels{
		ContentEmbedder:  embedder,
		PitchPredictor:   predictor,
		SynthesisVocoder: vocoder,
	}, release, nil
}
