package ringbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int, start float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}

func TestWriteReadFIFO(t *testing.T) {
	rb := New(8)
	rb.Write(seq(4, 0))
	got := rb.Read(4)
	require.Equal(t, []float32{0, 1, 2, 3}, got)
	assert.Equal(t, 0, rb.Size())
}

func TestReadFewerThanAvailable(t *testing.T) {
	rb := New(8)
	rb.Write(seq(3, 10))
	got := rb.Read(10)
	assert.Equal(t, []float32{10, 11, 12}, got)
	assert.Equal(t, 0, rb.Size())
}

func TestPeekDoesNotAdvance(t *testing.T) {
	rb := New(8)
	rb.Write(seq(4, 0))
	p1 := rb.Peek(2)
	p2 := rb.Peek(2)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 4, rb.Size())
}

func TestOverflowShiftsOldestOut(t *testing.T) {
	rb := New(4)
	rb.Write(seq(4, 0)) // 0,1,2,3
	dropped := rb.Write(seq(2, 100)) // overflow by 2: drop 0,1
	assert.Equal(t, 2, dropped)
	assert.Equal(t, uint64(2), rb.Drops())
	got := rb.Read(4)
	assert.Equal(t, []float32{2, 3, 100, 101}, got)
}

func TestWriteLargerThanCapacityKeepsTail(t *testing.T) {
	rb := New(4)
	dropped := rb.Write(seq(10, 0)) // 0..9, capacity 4 -> keep 6,7,8,9
	assert.Equal(t, 6, dropped)
	got := rb.Read(4)
	assert.Equal(t, []float32{6, 7, 8, 9}, got)
}

func TestSizeNeverExceedsCapacity(t *testing.T) {
	rb := New(5)
	for i := 0; i < 20; i++ {
		rb.Write(seq(3, float32(i*3)))
		assert.GreaterOrEqual(t, rb.Size(), 0)
		assert.LessOrEqual(t, rb.Size(), rb.Capacity())
	}
}

func TestClear(t *testing.T) {
	rb := New(8)
	rb.Write(seq(4, 0))
	rb.Clear()
	assert.Equal(t, 0, rb.Size())
	assert.Equal(t, 8, rb.Available())
}

func TestAvailable(t *testing.T) {
	rb := New(10)
	rb.Write(seq(4, 0))
	assert.Equal(t, 6, rb.Available())
}

func TestWrapAroundAfterPartialReads(t *testing.T) {
	rb := New(4)
	rb.Write(seq(3, 0)) // 0,1,2
	rb.Read(2)          // consumes 0,1; readPos moves to 2
	rb.Write(seq(3, 10)) // size was 1 (just "2"), +3 = 4, fits exactly; write wraps to index 0
	got := rb.Read(4)
	assert.Equal(t, []float32{2, 10, 11, 12}, got)
}
