package streambuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushOverwritesOldest(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	require.True(t, b.IsFull())
	assert.Equal(t, 1, *b.Oldest(0))
	assert.Equal(t, 3, *b.Newest(0))

	b.Push(4)
	assert.Equal(t, 2, *b.Oldest(0))
	assert.Equal(t, 4, *b.Newest(0))
	assert.Equal(t, 3, b.Size())
}

func TestCentreIndex(t *testing.T) {
	b := New[int](5)
	for i := 0; i < 5; i++ {
		b.Push(i)
	}
	assert.Equal(t, 2, b.CentreIndex())
	assert.Equal(t, 2, *b.Centre(0))
}

func TestSkip(t *testing.T) {
	b := New[int](4)
	for i := 0; i < 4; i++ {
		b.Push(i)
	}
	b.Skip(2)
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, 2, *b.Oldest(0))
}

func TestConvolveIdentityKernel(t *testing.T) {
	b := New[float64](3)
	b.Push(10)
	b.Push(20)
	b.Push(30)

	kernel := []float64{0, 1, 0}
	result, err := Convolve(b, kernel, 0.0, func(acc float64, w float64, v float64) float64 {
		return acc + w*v
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, result)
}

func TestConvolveMismatchedLength(t *testing.T) {
	b := New[float64](3)
	b.Push(1)
	b.Push(2)
	b.Push(3)

	_, err := Convolve(b, []float64{1, 2}, 0.0, func(acc, w, v float64) float64 { return acc + w*v })
	assert.Error(t, err)
}

func TestAdvanceWritesInPlace(t *testing.T) {
	b := New[[]int](2)
	slot := b.Advance()
	*slot = append(*slot, 42)
	assert.Equal(t, []int{42}, *b.Newest(0))
}

func TestOutOfRangeAccessPanics(t *testing.T) {
	b := New[int](2)
	b.Push(1)
	assert.Panics(t, func() { b.Oldest(5) })
}
