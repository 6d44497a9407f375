// Package spatialgrid implements a rectangle partitioned into a fixed grid of
// cells, addressable both by (col,row) key and by any point inside the
// region it is aligned to. It backs the detection-zone grid and the feature
// suppression grid in pkg/feature, and the cell binning pkg/warpfield's
// FitTo uses to accumulate point correspondences.
package spatialgrid

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Key identifies a single grid cell.
type Key struct {
	Col, Row int
}

// Rect is an axis-aligned region in the same units as the points passed to
// KeyOf. It plays the role of cv::Rect2f in the original grid.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Grid is the dimension/alignment-only partition (VirtualGrid). SpatialMap
// embeds it to add sparse cell values.
type Grid struct {
	rows, cols int
	region     Rect
}

// NewGrid builds a grid of rows x cols cells aligned to region. Panics if
// rows or cols is not positive, mirroring the partition's invariant that a
// grid always has at least one cell.
func NewGrid(rows, cols int, region Rect) *Grid {
	if rows < 1 || cols < 1 {
		panic("spatialgrid: rows and cols must be >= 1")
	}
	return &Grid{rows: rows, cols: cols, region: region}
}

func (g *Grid) Rows() int    { return g.rows }
func (g *Grid) Cols() int    { return g.cols }
func (g *Grid) Region() Rect { return g.region }

func (g *Grid) cellSize() (w, h float64) {
	return g.region.W / float64(g.cols), g.region.H / float64(g.rows)
}

// KeyOf returns the (col,row) key containing point (x,y) and whether the
// point lies within the aligned region at all.
func (g *Grid) KeyOf(x, y float64) (Key, bool) {
	if !g.region.contains(x, y) {
		return Key{}, false
	}
	cw, ch := g.cellSize()
	col := int((x - g.region.X) / cw)
	row := int((y - g.region.Y) / ch)
	if col >= g.cols {
		col = g.cols - 1
	}
	if row >= g.rows {
		row = g.rows - 1
	}
	return Key{Col: col, Row: row}, true
}

// TryKeyOf mirrors KeyOf but returns a *Key, nil when the point falls
// outside the region — the Go analogue of an optional.
func (g *Grid) TryKeyOf(x, y float64) *Key {
	if k, ok := g.KeyOf(x, y); ok {
		return &k
	}
	return nil
}

// Rescale changes the cell count without moving the region.
func (g *Grid) Rescale(rows, cols int) {
	if rows < 1 || cols < 1 {
		panic("spatialgrid: rows and cols must be >= 1")
	}
	g.rows, g.cols = rows, cols
}

// Align reanchors the partition to a new rectangle, keeping rows/cols fixed.
func (g *Grid) Align(region Rect) {
	g.region = region
}

// SpatialMap adds sparse per-cell values of type V on top of a Grid.
type SpatialMap[V any] struct {
	Grid
	cells map[Key]V
}

// NewSpatialMap builds an empty SpatialMap of rows x cols cells aligned to
// region.
func NewSpatialMap[V any](rows, cols int, region Rect) *SpatialMap[V] {
	return &SpatialMap[V]{
		Grid:  *NewGrid(rows, cols, region),
		cells: make(map[Key]V),
	}
}

// PlaceAt stores v at key, overwriting any existing value.
func (m *SpatialMap[V]) PlaceAt(key Key, v V) {
	m.cells[key] = v
}

// EmplaceAt is an alias for PlaceAt — both overwrite per spec, kept distinct
// for call-site clarity the way place_at/emplace_at read distinctly in the
// original grid.
func (m *SpatialMap[V]) EmplaceAt(key Key, v V) {
	m.PlaceAt(key, v)
}

// At returns the value at key and whether the cell is occupied.
func (m *SpatialMap[V]) At(key Key) (V, bool) {
	v, ok := m.cells[key]
	return v, ok
}

// AtOr returns the value at key, or def if the cell is unoccupied.
func (m *SpatialMap[V]) AtOr(key Key, def V) V {
	if v, ok := m.cells[key]; ok {
		return v
	}
	return def
}

// Erase removes any value stored at key.
func (m *SpatialMap[V]) Erase(key Key) {
	delete(m.cells, key)
}

// Clear removes every stored value without changing the partition.
func (m *SpatialMap[V]) Clear() {
	m.cells = make(map[Key]V)
}

// Count returns the number of occupied cells.
func (m *SpatialMap[V]) Count() int { return len(m.cells) }

// Each calls fn for every occupied cell.
func (m *SpatialMap[V]) Each(fn func(key Key, v V)) {
	for k, v := range m.cells {
		fn(k, v)
	}
}

// Rescale changes rows/cols. Existing cell values are kept under their old
// keys: a caller that needs to re-bin values into the new shape must do so
// itself, matching the original's "values do not survive a rescale in any
// coordinated way" behavior.
func (m *SpatialMap[V]) Rescale(rows, cols int) {
	m.Grid.Rescale(rows, cols)
}

// DistributionQuality computes the Shannon entropy of the occupied-cell
// count over a coarse 5x5 sub-grid spanning the full partition, normalized
// into [0,1] where 1 means perfectly uniform occupation across the 25
// buckets and 0 means every occupied cell falls into a single bucket.
func (m *SpatialMap[V]) DistributionQuality() float64 {
	const subRows, subCols = 5, 5

	if len(m.cells) == 0 {
		return 0
	}

	var counts [subRows * subCols]float64
	for key := range m.cells {
		sr := key.Row * subRows / m.rows
		sc := key.Col * subCols / m.cols
		if sr >= subRows {
			sr = subRows - 1
		}
		if sc >= subCols {
			sc = subCols - 1
		}
		counts[sr*subCols+sc]++
	}

	occupiedBuckets := 0
	for _, c := range counts {
		if c > 0 {
			occupiedBuckets++
		}
	}
	if occupiedBuckets <= 1 {
		return 0
	}

	total := 0.0
	for _, c := range counts {
		total += c
	}
	probs := make([]float64, 0, len(counts))
	for _, c := range counts {
		if c > 0 {
			probs = append(probs, c/total)
		}
	}

	entropy := stat.Entropy(probs)
	maxEntropy := math.Log(float64(len(counts)))
	if maxEntropy == 0 {
		return 0
	}
	return entropy / maxEntropy
}

// DistributionCentroid returns the centroid of occupied cell keys, each
// weighted uniformly regardless of its stored value.
func (m *SpatialMap[V]) DistributionCentroid() (col, row float64, ok bool) {
	if len(m.cells) == 0 {
		return 0, 0, false
	}
	var sumCol, sumRow float64
	for k := range m.cells {
		sumCol += float64(k.Col)
		sumRow += float64(k.Row)
	}
	n := float64(len(m.cells))
	return sumCol / n, sumRow / n, true
}
