package warpfield

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/your-org/livestab/pkg/lvkerr"
)

// Homography wraps a 3x3 CV_64FC1 perspective transform matrix, mirroring
// the original's thin wrapper around cv::Mat with the same identity/zero
// constructors and point-transform helper.
type Homography struct {
	m gocv.Mat
}

// IdentityHomography returns the 3x3 identity transform.
func IdentityHomography() *Homography {
	return &Homography{m: gocv.Eye(3, 3, gocv.MatTypeCV64F)}
}

// WrapMatrix takes ownership of a cloned 3x3 CV_64FC1 matrix, such as one
// returned by gocv.FindHomography.
func WrapMatrix(m gocv.Mat) (*Homography, error) {
	if m.Rows() != 3 || m.Cols() != 3 {
		return nil, fmt.Errorf("warpfield: homography matrix must be 3x3: %w", lvkerr.ErrInvalidInput)
	}
	return &Homography{m: m.Clone()}, nil
}

// FromAffineMatrix builds a 3x3 homography from a 2x3 CV_64FC1 affine
// matrix, such as one returned by gocv.EstimateAffinePartial2D, by
// appending the implicit [0 0 1] row.
func FromAffineMatrix(affine gocv.Mat) (*Homography, error) {
	if affine.Rows() != 2 || affine.Cols() != 3 {
		return nil, fmt.Errorf("warpfield: FromAffineMatrix: expected a 2x3 matrix: %w", lvkerr.ErrInvalidInput)
	}
	m := gocv.Eye(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, affine.GetDoubleAt(r, c))
		}
	}
	return &Homography{m: m}, nil
}

// Close releases the underlying matrix.
func (h *Homography) Close() error { return h.m.Close() }

// Mat returns a read-only view of the underlying 3x3 matrix.
func (h *Homography) Mat() gocv.Mat { return h.m }

// Inverse returns the inverse transform. Fails if the matrix is singular.
func (h *Homography) Inverse() (*Homography, error) {
	inv := gocv.NewMat()
	det := gocv.Invert(h.m, &inv, gocv.SolveDecompositionLu)
	if det == 0 {
		inv.Close()
		return nil, fmt.Errorf("warpfield: singular homography: %w", lvkerr.ErrInvalidInput)
	}
	return &Homography{m: inv}, nil
}

// Apply transforms a point using the full 3x3 perspective divide.
func (h *Homography) Apply(x, y float64) (float64, float64) {
	m00 := h.m.GetDoubleAt(0, 0)
	m01 := h.m.GetDoubleAt(0, 1)
	m02 := h.m.GetDoubleAt(0, 2)
	m10 := h.m.GetDoubleAt(1, 0)
	m11 := h.m.GetDoubleAt(1, 1)
	m12 := h.m.GetDoubleAt(1, 2)
	m20 := h.m.GetDoubleAt(2, 0)
	m21 := h.m.GetDoubleAt(2, 1)
	m22 := h.m.GetDoubleAt(2, 2)

	w := m20*x + m21*y + m22
	if w == 0 {
		return x, y
	}
	return (m00*x + m01*y + m02) / w, (m10*x + m11*y + m12) / w
}
