package warpfield

import (
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetIdentityZeroesField(t *testing.T) {
	w := New(4, 6)
	defer w.Close()

	w.Set(2, 1, Vec2{X: 5, Y: -3})
	w.SetIdentity()

	v := w.At(2, 1)
	assert.Equal(t, Vec2{}, v)
}

func TestSetToIdentityHomographyIsZero(t *testing.T) {
	w := New(2, 2)
	defer w.Close()

	h := IdentityHomography()
	defer h.Close()

	require.NoError(t, w.SetTo(h, image.Pt(640, 480)))

	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			v := w.At(c, r)
			assert.InDelta(t, 0, v.X, 1e-3)
			assert.InDelta(t, 0, v.Y, 1e-3)
		}
	}
}

func TestApplyIdentityPreservesFrame(t *testing.T) {
	src := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8UC3)
	defer src.Close()
	src.SetTo(gocv.NewScalar(10, 20, 30, 0))

	w := New(3, 3)
	defer w.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	require.NoError(t, w.Apply(src, &dst))
	assert.Equal(t, src.Rows(), dst.Rows())
	assert.Equal(t, src.Cols(), dst.Cols())

	center := dst.GetVecbAt(50, 50)
	assert.Equal(t, uint8(10), center[0])
	assert.Equal(t, uint8(20), center[1])
	assert.Equal(t, uint8(30), center[2])
}

func TestApplyRejectsEmptyFrame(t *testing.T) {
	w := New(2, 2)
	defer w.Close()

	empty := gocv.NewMat()
	defer empty.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	err := w.Apply(empty, &dst)
	assert.Error(t, err)
}

func TestClampRestrictsComponents(t *testing.T) {
	w := New(2, 2)
	defer w.Close()

	w.Set(0, 0, Vec2{X: 100, Y: -100})
	w.Clamp(Vec2{X: 10, Y: 10})

	v := w.At(0, 0)
	assert.Equal(t, float32(10), v.X)
	assert.Equal(t, float32(-10), v.Y)
}

func TestUndistortFullToleranceIsNoOp(t *testing.T) {
	w := New(2, 2)
	defer w.Close()
	w.Set(0, 0, Vec2{X: 4, Y: -2})
	w.Set(1, 1, Vec2{X: -4, Y: 2})

	before := w.At(0, 0)
	w.Undistort(1.0)
	after := w.At(0, 0)
	assert.InDelta(t, before.X, after.X, 1e-5)
	assert.InDelta(t, before.Y, after.Y, 1e-5)
}

func TestUndistortZeroToleranceCollapsesToMean(t *testing.T) {
	w := New(2, 2)
	defer w.Close()
	w.Set(0, 0, Vec2{X: 4, Y: 0})
	w.Set(1, 0, Vec2{X: -4, Y: 0})
	w.Set(0, 1, Vec2{X: 0, Y: 0})
	w.Set(1, 1, Vec2{X: 0, Y: 0})

	mean := w.Mean()
	w.Undistort(0.0)

	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			v := w.At(c, r)
			assert.InDelta(t, mean.X, v.X, 1e-4)
			assert.InDelta(t, mean.Y, v.Y, 1e-4)
		}
	}
}

func TestCombineAccumulatesWeighted(t *testing.T) {
	a := New(2, 2)
	defer a.Close()
	b := New(2, 2)
	defer b.Close()

	a.Set(0, 0, Vec2{X: 1, Y: 1})
	b.Set(0, 0, Vec2{X: 2, Y: 2})

	require.NoError(t, a.Combine(b, 0.5))
	v := a.At(0, 0)
	assert.Equal(t, float32(2), v.X)
	assert.Equal(t, float32(2), v.Y)
}

func TestCombineSizeMismatchErrors(t *testing.T) {
	a := New(2, 2)
	defer a.Close()
	b := New(3, 3)
	defer b.Close()

	err := a.Combine(b, 1.0)
	assert.Error(t, err)
}

func TestResizePreservesIdentity(t *testing.T) {
	w := New(2, 2)
	defer w.Close()

	require.NoError(t, w.Resize(8, 8))
	assert.Equal(t, 8, w.Rows())
	assert.Equal(t, 8, w.Cols())

	v := w.At(4, 4)
	assert.Equal(t, Vec2{}, v)
}

func TestAddSubScaleDiv(t *testing.T) {
	a := New(2, 2)
	defer a.Close()
	b := New(2, 2)
	defer b.Close()

	a.Set(0, 0, Vec2{X: 2, Y: 4})
	b.Set(0, 0, Vec2{X: 1, Y: 1})

	sum, err := a.Add(b)
	require.NoError(t, err)
	defer sum.Close()
	assert.Equal(t, Vec2{X: 3, Y: 5}, sum.At(0, 0))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	defer diff.Close()
	assert.Equal(t, Vec2{X: 1, Y: 3}, diff.At(0, 0))

	scaled := a.Scale(2)
	defer scaled.Close()
	assert.Equal(t, Vec2{X: 4, Y: 8}, scaled.At(0, 0))

	divided := a.Div(2)
	defer divided.Close()
	assert.Equal(t, Vec2{X: 1, Y: 2}, divided.At(0, 0))
}

func TestElementwiseMul(t *testing.T) {
	a := New(2, 2)
	defer a.Close()
	b := New(2, 2)
	defer b.Close()

	a.Set(1, 1, Vec2{X: 3, Y: 4})
	b.Set(1, 1, Vec2{X: 2, Y: 2})

	out, err := a.ElementwiseMul(b)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, Vec2{X: 6, Y: 8}, out.At(1, 1))
}

func TestFitToMismatchedPointCountsErrors(t *testing.T) {
	w := New(4, 4)
	defer w.Close()

	err := w.FitTo(
		Rect{X: 0, Y: 0, W: 640, H: 480},
		[]Point{{X: 1, Y: 1}},
		[]Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		nil,
	)
	assert.Error(t, err)
}

func TestFitToConvergesTowardObservedTranslation(t *testing.T) {
	w := New(4, 4)
	defer w.Close()

	region := Rect{X: 0, Y: 0, W: 640, H: 480}
	var origin, warped []Point
	for y := 20.0; y < 460; y += 40 {
		for x := 20.0; x < 620; x += 40 {
			origin = append(origin, Point{X: x, Y: y})
			warped = append(warped, Point{X: x + 5, Y: y + 3})
		}
	}

	require.NoError(t, w.FitTo(region, origin, warped, nil))

	v := w.At(2, 2)
	assert.InDelta(t, -5, v.X, 3)
	assert.InDelta(t, -3, v.Y, 3)
}

func TestCropInResizesBackToOriginalShape(t *testing.T) {
	w := New(8, 8)
	defer w.Close()

	require.NoError(t, w.CropIn(image.Rect(2, 2, 6, 6)))
	assert.Equal(t, 8, w.Rows())
	assert.Equal(t, 8, w.Cols())
}

func TestCropInRejectsOutOfBoundsRegion(t *testing.T) {
	w := New(4, 4)
	defer w.Close()

	err := w.CropIn(image.Rect(-1, 0, 4, 4))
	assert.Error(t, err)
}
