// Package batchadapter implements the BatchAdapter ConversionBackend: it
// wraps an external file-batch voice converter whose only interface is
// "read input file, write output file", trading latency for compatibility
// with an already-tested offline converter.
package batchadapter

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"

	"github.com/BasicFist/rwc/pkg/convconfig"
	"github.com/BasicFist/rwc/pkg/rvcerr"
)

const (
	wavBitDepth       = 32 // PCM-float32 WAV, per the binary contract in §6.3.
	wavIEEEFloatCode  = 3  // WAVE_FORMAT_IEEE_FLOAT
)

// Adapter implements backend.ConversionBackend by round-tripping each chunk
// through an external converter process via scratch WAV files.
type Adapter struct {
	cfg *convconfig.Config
	log *logrus.Logger

	tempDir string
	argv    []string

	mu             sync.Mutex
	chunksSeen     uint64
	measuredLastMs int64 // atomic-ish via mu; kept simple, single writer (worker)
}

// New builds an Adapter for the given config. The converter command line
// (cfg.ConverterCommand) is parsed at construction time so a malformed
// command surfaces as an error from New, not on the first chunk.
func New(cfg *convconfig.Config, log *logrus.Logger) (*Adapter, error) {
	argv, err := shellwords.Parse(cfg.ConverterCommand)
	if err != nil || len(argv) == 0 {
		return nil, rvcerr.NewBackendInitError("batch_adapter", fmt.Errorf("invalid converter command %q: %w", cfg.ConverterCommand, err))
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{cfg: cfg, log: log, argv: argv}, nil
}

// Initialize creates the scratch directory this backend instance owns.
func (a *Adapter) Initialize() error {
	dir, err := os.MkdirTemp("", "rwc_batchadapter_*")
	if err != nil {
		return rvcerr.NewBackendInitError("batch_adapter", fmt.Errorf("temp dir unavailable: %w", err))
	}
	a.tempDir = dir
	a.log.WithField("temp_dir", dir).Info("batch adapter initialized")
	return nil
}

// ConvertChunk writes chunk to a scratch WAV, invokes the external
// converter, reads the result back, and trims/pads it to chunk-size.
// context is ignored: the external converter is stateless per file.
func (a *Adapter) ConvertChunk(chunk, context []float32) ([]float32, error) {
	id := atomic.AddUint64(&a.chunksSeen, 1) - 1
	inPath := filepath.Join(a.tempDir, fmt.Sprintf("chunk_%06d_in.wav", id))
	outPath := filepath.Join(a.tempDir, fmt.Sprintf("chunk_%06d_out.wav", id))
	defer a.cleanupScratch(inPath, outPath)

	t0 := time.Now()
	if err := writeWAV(inPath, chunk, a.cfg.SampleRate); err != nil {
		return nil, rvcerr.NewBackendConvertError(false, "failed to write scratch input WAV", err)
	}
	writeMs := time.Since(t0).Milliseconds()

	t1 := time.Now()
	if err := a.invokeConverter(inPath, outPath); err != nil {
		return nil, rvcerr.NewBackendConvertError(false, "external converter failed", err)
	}
	convertMs := time.Since(t1).Milliseconds()

	t2 := time.Now()
	converted, sampleRate, err := readWAV(outPath)
	if err != nil {
		return nil, rvcerr.NewBackendConvertError(false, "failed to read scratch output WAV", err)
	}
	if len(converted) == 0 {
		return nil, rvcerr.NewBackendConvertError(false, "external converter produced empty audio", nil)
	}
	if sampleRate != a.cfg.SampleRate {
		converted = resampleLinear(converted, sampleRate, a.cfg.SampleRate)
	}
	readMs := time.Since(t2).Milliseconds()

	converted = fitToLength(converted, len(chunk))

	a.mu.Lock()
	a.measuredLastMs = time.Since(t0).Milliseconds()
	a.mu.Unlock()

	a.log.WithFields(logrus.Fields{
		"chunk_id":   id,
		"write_ms":   writeMs,
		"convert_ms": convertMs,
		"read_ms":    readMs,
	}).Debug("batch adapter converted chunk")

	return converted, nil
}

// Cleanup removes the scratch directory. Idempotent.
func (a *Adapter) Cleanup() error {
	if a.tempDir == "" {
		return nil
	}
	dir := a.tempDir
	a.tempDir = ""
	if err := os.RemoveAll(dir); err != nil {
		a.log.WithError(err).Warn("failed to remove batch adapter temp dir")
	}
	return nil
}

// EstimateLatencyMs returns the last measured round-trip latency, or a
// rough estimate before the first chunk has completed.
func (a *Adapter) EstimateLatencyMs() float64 {
	a.mu.Lock()
	last := a.measuredLastMs
	a.mu.Unlock()
	if last > 0 {
		return float64(last)
	}
	chunkDurationMs := float64(a.cfg.ChunkSize) / float64(a.cfg.SampleRate) * 1000
	const fileIOOverheadMs = 40.0
	converterMs := chunkDurationMs * 4 // empirical multiplier, matches the original estimator
	return chunkDurationMs + fileIOOverheadMs + converterMs
}

func (a *Adapter) invokeConverter(inPath, outPath string) error {
	args := append([]string{}, a.argv[1:]...)
	args = append(args,
		"--input", inPath,
		"--output", outPath,
		"--model", a.cfg.ModelID,
		"--pitch-shift", fmt.Sprintf("%d", a.cfg.PitchShift),
		"--index-rate", fmt.Sprintf("%.3f", a.cfg.IndexRate),
		"--pitch-method", a.cfg.PitchMethod.String(),
	)

	cmd := exec.Command(a.argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("converter exited: %w: %s", err, stderr.String())
	}
	return nil
}

func (a *Adapter) cleanupScratch(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			a.log.WithField("path", p).WithError(err).Warn("failed to remove scratch file")
		}
	}
}

// writeWAV writes samples as a PCM-float32 WAV file. go-audio/wav's encoder
// only frames raw sample words through an IntBuffer, so each float32 sample
// is bit-packed into its IntBuffer slot via its IEEE-754 bit pattern, and
// unpacked the same way on read.
func writeWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, 1, wavIEEEFloatCode)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: wavBitDepth,
	}
	for i, s := range samples {
		buf.Data[i] = int(int32(math.Float32bits(s)))
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

func readWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, err
	}
	out := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = math.Float32frombits(uint32(int32(v)))
	}
	return out, int(dec.SampleRate), nil
}

// resampleLinear performs simple linear-interpolation resampling; the
// external converter is expected to emit at the working rate, so this only
// covers unexpected mismatches (high-quality resampling is out of scope
// here).
func resampleLinear(in []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(in) == 0 {
		return in
	}
	outLen := len(in) * dstRate / srcRate
	out := make([]float32, outLen)
	for i := range out {
		srcPos := float64(i) * float64(srcRate) / float64(dstRate)
		i0 := int(srcPos)
		if i0 >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		out[i] = in[i0]*(1-frac) + in[i0+1]*frac
	}
	return out
}

// fitToLength right-pads with zeros or truncates from the right so the
// returned slice has exactly n samples.
func fitToLength(samples []float32, n int) []float32 {
	if len(samples) == n {
		return samples
	}
	if len(samples) > n {
		return samples[:n]
	}
	out := make([]float32, n)
	copy(out, samples)
	return out
}
