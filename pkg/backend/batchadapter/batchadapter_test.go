package batchadapter

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/BasicFist/rwc/pkg/convconfig"
)

func testConfig(t *testing.T, converterCommand string) *convconfig.Config {
	t.Helper()
	cfg, err := convconfig.New("test-model", 1024, convconfig.WorkingSampleRate, 0, 0.75, convconfig.PitchMethodRMVPE, convconfig.BackendBatchAdapter)
	require.NoError(t, err)
	return cfg.WithBatchAdapterCommand(converterCommand)
}

// copyScript writes a tiny shell script that copies its --input WAV to
// --output verbatim, standing in for the external converter binary.
func copyScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("copy script only runs on unix shells")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake_converter.sh")
	script := `#!/bin/sh
set -e
in=""
out=""
while [ "$#" -gt 0 ]; do
  case "$1" in
    --input) in="$2"; shift 2 ;;
    --output) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
cp "$in" "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestWavRoundTripPreservesSamples(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chunk.wav")
	samples := []float32{0, 0.5, -0.5, 1.0, -1.0, 0.25}
	require.NoError(t, writeWAV(path, samples, convconfig.WorkingSampleRate))
	got, rate, err := readWAV(path)
	require.NoError(t, err)
	require.Equal(t, convconfig.WorkingSampleRate, rate)
	require.Equal(t, samples, got)
}

func TestConvertChunkRoundTripsThroughExternalConverter(t *testing.T) {
	script := copyScript(t)
	cfg := testConfig(t, script)
	a, err := New(cfg, logrus.StandardLogger())
	require.NoError(t, err)
	require.NoError(t, a.Initialize())
	defer a.Cleanup()

	chunk := make([]float32, cfg.ChunkSize)
	for i := range chunk {
		chunk[i] = float32(i%100) / 100
	}

	out, err := a.ConvertChunk(chunk, nil)
	require.NoError(t, err)
	require.Len(t, out, cfg.ChunkSize)
	require.InDeltaSlice(t, chunk, out, 1e-5)
}

func TestFitToLength(t *testing.T) {
	require.Equal(t, []float32{1, 2, 0, 0}, fitToLength([]float32{1, 2}, 4))
	require.Equal(t, []float32{1, 2}, fitToLength([]float32{1, 2, 3}, 2))
	require.Equal(t, []float32{1, 2}, fitToLength([]float32{1, 2}, 2))
}

func TestInvalidConverterCommandFailsAtConstruction(t *testing.T) {
	cfg := testConfig(t, "")
	_, err := New(cfg, logrus.StandardLogger())
	require.Error(t, err)
}
