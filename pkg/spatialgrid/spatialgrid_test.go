package spatialgrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitRegion() Rect { return Rect{X: 0, Y: 0, W: 100, H: 100} }

func TestKeyOfInsideAndOutside(t *testing.T) {
	g := NewGrid(10, 10, unitRegion())

	k, ok := g.KeyOf(55, 25)
	require.True(t, ok)
	assert.Equal(t, Key{Col: 5, Row: 2}, k)

	_, ok = g.KeyOf(150, 25)
	assert.False(t, ok)

	assert.Nil(t, g.TryKeyOf(-1, -1))
	assert.NotNil(t, g.TryKeyOf(0, 0))
}

func TestKeyOfClampsAtUpperEdge(t *testing.T) {
	g := NewGrid(4, 4, unitRegion())
	k, ok := g.KeyOf(99.999, 99.999)
	require.True(t, ok)
	assert.Equal(t, Key{Col: 3, Row: 3}, k)
}

func TestPlaceAtOverwrites(t *testing.T) {
	m := NewSpatialMap[int](5, 5, unitRegion())
	m.PlaceAt(Key{1, 1}, 10)
	m.PlaceAt(Key{1, 1}, 20)
	v, ok := m.At(Key{1, 1})
	require.True(t, ok)
	assert.Equal(t, 20, v)
}

func TestAtOrDefault(t *testing.T) {
	m := NewSpatialMap[int](5, 5, unitRegion())
	assert.Equal(t, 99, m.AtOr(Key{0, 0}, 99))
	m.PlaceAt(Key{0, 0}, 1)
	assert.Equal(t, 1, m.AtOr(Key{0, 0}, 99))
}

func TestDistributionQualityUniformIsOne(t *testing.T) {
	m := NewSpatialMap[int](5, 5, unitRegion())
	for r := 0; r < 5; r++ {
		for c := 0; c < 5; c++ {
			m.PlaceAt(Key{Col: c, Row: r}, 1)
		}
	}
	assert.InDelta(t, 1.0, m.DistributionQuality(), 1e-9)
}

func TestDistributionQualitySingleCellIsZero(t *testing.T) {
	m := NewSpatialMap[int](5, 5, unitRegion())
	m.PlaceAt(Key{0, 0}, 1)
	assert.Equal(t, 0.0, m.DistributionQuality())
}

func TestDistributionQualityEmptyIsZero(t *testing.T) {
	m := NewSpatialMap[int](5, 5, unitRegion())
	assert.Equal(t, 0.0, m.DistributionQuality())
}

func TestDistributionCentroid(t *testing.T) {
	m := NewSpatialMap[int](10, 10, unitRegion())
	m.PlaceAt(Key{0, 0}, 1)
	m.PlaceAt(Key{2, 0}, 1)
	col, row, ok := m.DistributionCentroid()
	require.True(t, ok)
	assert.InDelta(t, 1.0, col, 1e-9)
	assert.InDelta(t, 0.0, row, 1e-9)
}

func TestDistributionCentroidEmpty(t *testing.T) {
	m := NewSpatialMap[int](10, 10, unitRegion())
	_, _, ok := m.DistributionCentroid()
	assert.False(t, ok)
}

func TestRescaleAndAlign(t *testing.T) {
	m := NewSpatialMap[int](5, 5, unitRegion())
	m.Rescale(10, 20)
	assert.Equal(t, 10, m.Rows())
	assert.Equal(t, 20, m.Cols())

	m.Align(Rect{X: 50, Y: 50, W: 10, H: 10})
	k, ok := m.KeyOf(55, 55)
	require.True(t, ok)
	assert.Equal(t, Key{Col: 10, Row: 5}, k)
}

func TestClearRemovesValuesNotPartition(t *testing.T) {
	m := NewSpatialMap[int](5, 5, unitRegion())
	m.PlaceAt(Key{0, 0}, 1)
	m.Clear()
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 5, m.Rows())
}
