package audioio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDownmixAveragesChannels(t *testing.T) {
	stereo := []float32{1.0, 3.0, 2.0, -2.0}
	mono := downmix(stereo, 2)
	assert.Equal(t, []float32{2.0, 0.0}, mono)
}

func TestDownmixMonoIsNoop(t *testing.T) {
	mono := []float32{0.1, 0.2}
	assert.Equal(t, mono, downmix(mono, 1))
}

func TestUpmixDuplicatesChannels(t *testing.T) {
	mono := []float32{1.0, 2.0}
	stereo := upmix(mono, 2)
	assert.Equal(t, []float32{1.0, 1.0, 2.0, 2.0}, stereo)
}

func TestFloat32ByteRoundTrip(t *testing.T) {
	samples := []float32{0.5, -0.25, 1.0, -1.0}
	buf := make([]byte, len(samples)*4)
	copyFloat32ToBytes(buf, samples)
	got := bytesToFloat32(buf, len(samples))
	assert.Equal(t, samples, got)
}
