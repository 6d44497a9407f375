// Package warpfield implements C1 WarpField: a dense grid of 2-D
// displacement vectors representing a backward warp, plus the mesh-fitting
// algorithm (FitTo) used by pkg/tracker to turn matched points into a
// spatially coherent motion field.
package warpfield

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/your-org/livestab/pkg/lvkerr"
)

// Vec2 is a single displacement vector.
type Vec2 struct {
	X, Y float32
}

func (v Vec2) add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }
func (v Vec2) sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// WarpField holds a rows x cols grid of Vec2, backed by a CV_32FC2 matrix so
// resize/add/multiply can be delegated to gocv where convenient.
type WarpField struct {
	rows, cols int
	grid       gocv.Mat
}

// New builds an identity (all-zero) field of the given shape. Panics if
// rows or cols is not positive.
func New(rows, cols int) *WarpField {
	if rows < 1 || cols < 1 {
		panic("warpfield: rows and cols must be >= 1")
	}
	grid := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32FC2)
	grid.SetTo(gocv.NewScalar(0, 0, 0, 0))
	return &WarpField{rows: rows, cols: cols, grid: grid}
}

// Close releases the backing matrix. Safe to call once per field.
func (w *WarpField) Close() error { return w.grid.Close() }

func (w *WarpField) Rows() int { return w.rows }
func (w *WarpField) Cols() int { return w.cols }

// Clone deep-copies the field.
func (w *WarpField) Clone() *WarpField {
	return &WarpField{rows: w.rows, cols: w.cols, grid: w.grid.Clone()}
}

// SetIdentity zeroes every vector.
func (w *WarpField) SetIdentity() {
	w.grid.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

// At returns the vector stored at grid cell (col, row).
func (w *WarpField) At(col, row int) Vec2 {
	v := w.grid.GetVecfAt(row, col)
	return Vec2{X: v[0], Y: v[1]}
}

// Set stores v at grid cell (col, row).
func (w *WarpField) Set(col, row int, v Vec2) {
	w.grid.SetVecfAt(row, col, gocv.Vecf{v.X, v.Y})
}

func (w *WarpField) sameSizeAs(o *WarpField) bool {
	return w.rows == o.rows && w.cols == o.cols
}

// SetTo sets this field (must already be sized) to exactly represent
// homography h over a frame of the given size: for grid cell (c,r), the
// destination point p = (c*W/(cols-1), r*H/(rows-1)) maps to h^-1(p) - p.
// A 2x2 field set this way exactly reproduces h via Apply.
func (w *WarpField) SetTo(h *Homography, size image.Point) error {
	hInv, err := h.Inverse()
	if err != nil {
		return fmt.Errorf("warpfield: SetTo: %w", err)
	}
	defer hInv.Close()

	W, H := float64(size.X), float64(size.Y)
	for r := 0; r < w.rows; r++ {
		py := 0.0
		if w.rows > 1 {
			py = float64(r) * H / float64(w.rows-1)
		}
		for c := 0; c < w.cols; c++ {
			px := 0.0
			if w.cols > 1 {
				px = float64(c) * W / float64(w.cols-1)
			}
			sx, sy := hInv.Apply(px, py)
			w.Set(c, r, Vec2{X: float32(sx - px), Y: float32(sy - py)})
		}
	}
	return nil
}

type applyConfig struct {
	smoothField bool
	interp      gocv.InterpolationFlags
	border      gocv.BorderType
	borderValue color.RGBA
}

// ApplyOption configures WarpField.Apply.
type ApplyOption func(*applyConfig)

// WithFieldSmoothing toggles the optional 5x5 median + 3x3 box pre-filter
// over the resized displacement grid before remap, suppressing speckle from
// robust fitting. Off by default.
func WithFieldSmoothing(on bool) ApplyOption {
	return func(c *applyConfig) { c.smoothField = on }
}

// WithConstantBorder fills pixels that warp in from outside the source frame
// with a solid color, instead of the default edge-replication.
func WithConstantBorder(fill color.RGBA) ApplyOption {
	return func(c *applyConfig) {
		c.border = gocv.BorderConstant
		c.borderValue = fill
	}
}

// Apply backward-warps src into dst using this field. For a 2x2 field, an
// exact perspective warp is used (built from the four corner
// displacements). Otherwise, the field is resized to src's size, added to
// the identity grid to produce an absolute source map, and remapped with
// bilinear interpolation.
func (w *WarpField) Apply(src gocv.Mat, dst *gocv.Mat, opts ...ApplyOption) error {
	if src.Empty() || src.Rows() == 0 || src.Cols() == 0 {
		return fmt.Errorf("warpfield: Apply: %w", lvkerr.ErrInvalidInput)
	}

	cfg := applyConfig{interp: gocv.InterpolationLinear, border: gocv.BorderReplicate}
	for _, o := range opts {
		o(&cfg)
	}

	size := image.Pt(src.Cols(), src.Rows())

	if w.rows == 2 && w.cols == 2 {
		h, err := w.asPerspective(size)
		if err != nil {
			return err
		}
		defer h.Close()
		gocv.WarpPerspectiveWithParams(src, dst, h.Mat(), size, gocv.InterpolationLinear, cfg.border, cfg.borderValue)
		return nil
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(w.grid, &resized, size, 0, 0, cfg.interp)

	field := resized
	if cfg.smoothField {
		median := gocv.NewMat()
		gocv.MedianBlur(field, &median, 5)
		boxed := gocv.NewMat()
		gocv.BoxFilter(median, &boxed, -1, image.Pt(3, 3), image.Pt(-1, -1), true, gocv.BorderDefault)
		median.Close()
		defer boxed.Close()
		field = boxed
	}

	absMap := identityMap(size.X, size.Y)
	defer absMap.Close()
	gocv.Add(absMap, field, &absMap)

	empty := gocv.NewMat()
	defer empty.Close()
	gocv.Remap(src, dst, absMap, empty, cfg.interp, cfg.border, cfg.borderValue)
	return nil
}

// asPerspective builds the exact perspective transform a 2x2 field
// represents over a frame of the given size, inverse to SetTo.
func (w *WarpField) asPerspective(size image.Point) (*Homography, error) {
	if w.rows != 2 || w.cols != 2 {
		return nil, fmt.Errorf("warpfield: asPerspective requires a 2x2 field: %w", lvkerr.ErrSizeMismatch)
	}
	W, H := float32(size.X), float32(size.Y)
	corners := []gocv.Point2f{
		{X: 0, Y: 0}, {X: W, Y: 0}, {X: 0, Y: H}, {X: W, Y: H},
	}
	srcPts := make([]gocv.Point2f, 0, 4)
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			v := w.At(c, r)
			corner := corners[r*2+c]
			srcPts = append(srcPts, gocv.Point2f{X: corner.X + v.X, Y: corner.Y + v.Y})
		}
	}

	srcVec := gocv.NewPoint2fVectorFromPoints(srcPts)
	defer srcVec.Close()
	dstVec := gocv.NewPoint2fVectorFromPoints(corners)
	defer dstVec.Close()

	m := gocv.GetPerspectiveTransform2f(srcVec, dstVec)
	return WrapMatrix(m)
}

func identityMap(w, h int) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV32FC2)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			m.SetVecfAt(r, c, gocv.Vecf{float32(c), float32(r)})
		}
	}
	return m
}

// CropIn crops the field to region (in grid-cell coordinates) and resizes
// the crop back up to the field's original rows/cols.
func (w *WarpField) CropIn(region image.Rectangle) error {
	if region.Min.X < 0 || region.Min.Y < 0 || region.Max.X > w.cols || region.Max.Y > w.rows ||
		region.Dx() < 1 || region.Dy() < 1 {
		return fmt.Errorf("warpfield: CropIn: region out of bounds: %w", lvkerr.ErrInvalidInput)
	}
	sub := w.grid.Region(region)
	resized := gocv.NewMat()
	gocv.Resize(sub, &resized, image.Pt(w.cols, w.rows), 0, 0, gocv.InterpolationLinear)
	sub.Close()
	w.grid.Close()
	w.grid = resized
	return nil
}

// Clamp restricts every vector's components to [-max.X,max.X] x [-max.Y,max.Y].
func (w *WarpField) Clamp(max Vec2) {
	for r := 0; r < w.rows; r++ {
		for c := 0; c < w.cols; c++ {
			v := w.At(c, r)
			w.Set(c, r, Vec2{
				X: clampf(v.X, -max.X, max.X),
				Y: clampf(v.Y, -max.Y, max.Y),
			})
		}
	}
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Mean returns the average vector over the whole field.
func (w *WarpField) Mean() Vec2 {
	var sx, sy float64
	n := float64(w.rows * w.cols)
	for r := 0; r < w.rows; r++ {
		for c := 0; c < w.cols; c++ {
			v := w.At(c, r)
			sx += float64(v.X)
			sy += float64(v.Y)
		}
	}
	return Vec2{X: float32(sx / n), Y: float32(sy / n)}
}

// Undistort reduces each vector's deviation from the field's mean by
// (1 - tolerance); tolerance is clamped to [0,1]. tolerance=1 is a no-op,
// tolerance=0 collapses the field to its mean (pure rigid motion).
func (w *WarpField) Undistort(tolerance float64) {
	if tolerance < 0 {
		tolerance = 0
	}
	if tolerance > 1 {
		tolerance = 1
	}
	mean := w.Mean()
	t := float32(tolerance)
	for r := 0; r < w.rows; r++ {
		for c := 0; c < w.cols; c++ {
			v := w.At(c, r)
			dv := v.sub(mean)
			w.Set(c, r, mean.add(Vec2{X: dv.X * t, Y: dv.Y * t}))
		}
	}
}

// Combine accumulates other scaled by weight into this field: this += weight*other.
func (w *WarpField) Combine(other *WarpField, weight float64) error {
	if !w.sameSizeAs(other) {
		return fmt.Errorf("warpfield: Combine: %w", lvkerr.ErrSizeMismatch)
	}
	wt := float32(weight)
	for r := 0; r < w.rows; r++ {
		for c := 0; c < w.cols; c++ {
			a := w.At(c, r)
			b := other.At(c, r)
			w.Set(c, r, Vec2{X: a.X + wt*b.X, Y: a.Y + wt*b.Y})
		}
	}
	return nil
}

// Resize bilinearly resamples the vector grid to a new shape. Identity is
// preserved since a zero grid resamples to zero.
func (w *WarpField) Resize(rows, cols int) error {
	if rows < 1 || cols < 1 {
		return fmt.Errorf("warpfield: Resize: %w", lvkerr.ErrInvalidInput)
	}
	resized := gocv.NewMat()
	gocv.Resize(w.grid, &resized, image.Pt(cols, rows), 0, 0, gocv.InterpolationLinear)
	w.grid.Close()
	w.grid = resized
	w.rows, w.cols = rows, cols
	return nil
}

// Add returns a new field holding the per-vector sum of w and other.
func (w *WarpField) Add(other *WarpField) (*WarpField, error) {
	if !w.sameSizeAs(other) {
		return nil, fmt.Errorf("warpfield: Add: %w", lvkerr.ErrSizeMismatch)
	}
	out := gocv.NewMat()
	gocv.Add(w.grid, other.grid, &out)
	return &WarpField{rows: w.rows, cols: w.cols, grid: out}, nil
}

// Sub returns a new field holding the per-vector difference w - other.
func (w *WarpField) Sub(other *WarpField) (*WarpField, error) {
	if !w.sameSizeAs(other) {
		return nil, fmt.Errorf("warpfield: Sub: %w", lvkerr.ErrSizeMismatch)
	}
	out := gocv.NewMat()
	gocv.Subtract(w.grid, other.grid, &out)
	return &WarpField{rows: w.rows, cols: w.cols, grid: out}, nil
}

// Scale returns a new field with every vector multiplied by s.
func (w *WarpField) Scale(s float64) *WarpField {
	out := New(w.rows, w.cols)
	sf := float32(s)
	for r := 0; r < w.rows; r++ {
		for c := 0; c < w.cols; c++ {
			v := w.At(c, r)
			out.Set(c, r, Vec2{X: v.X * sf, Y: v.Y * sf})
		}
	}
	return out
}

// Div returns a new field with every vector divided by s. Panics on s == 0.
func (w *WarpField) Div(s float64) *WarpField {
	if s == 0 {
		panic("warpfield: division by zero")
	}
	return w.Scale(1 / s)
}

// ElementwiseMul returns a new field with each vector's components
// multiplied component-wise against the same-shaped other field.
func (w *WarpField) ElementwiseMul(other *WarpField) (*WarpField, error) {
	if !w.sameSizeAs(other) {
		return nil, fmt.Errorf("warpfield: ElementwiseMul: %w", lvkerr.ErrSizeMismatch)
	}
	out := gocv.NewMat()
	gocv.Multiply(w.grid, other.grid, &out)
	return &WarpField{rows: w.rows, cols: w.cols, grid: out}, nil
}

// Sample bilinearly interpolates the field at pixel destination
// coordinates (x,y) in a frame of the given size, clamping to the nearest
// edge grid point outside the field's span.
func (w *WarpField) Sample(x, y float64, size image.Point) Vec2 {
	gx := x * float64(w.cols-1) / math.Max(1, float64(size.X))
	gy := y * float64(w.rows-1) / math.Max(1, float64(size.Y))
	if w.cols == 1 {
		gx = 0
	}
	if w.rows == 1 {
		gy = 0
	}
	gx = math.Max(0, math.Min(float64(w.cols-1), gx))
	gy = math.Max(0, math.Min(float64(w.rows-1), gy))

	c0, r0 := int(math.Floor(gx)), int(math.Floor(gy))
	c1, r1 := minInt(c0+1, w.cols-1), minInt(r0+1, w.rows-1)
	fx, fy := gx-float64(c0), gy-float64(r0)

	v00, v10 := w.At(c0, r0), w.At(c1, r0)
	v01, v11 := w.At(c0, r1), w.At(c1, r1)

	top := Vec2{
		X: v00.X + float32(fx)*(v10.X-v00.X),
		Y: v00.Y + float32(fx)*(v10.Y-v00.Y),
	}
	bottom := Vec2{
		X: v01.X + float32(fx)*(v11.X-v01.X),
		Y: v01.Y + float32(fx)*(v11.Y-v01.Y),
	}
	return Vec2{
		X: top.X + float32(fy)*(bottom.X-top.X),
		Y: top.Y + float32(fy)*(bottom.Y-top.Y),
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
