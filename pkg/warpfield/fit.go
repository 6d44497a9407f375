package warpfield

import (
	"fmt"
	"image"

	"github.com/your-org/livestab/pkg/lvkerr"
	"github.com/your-org/livestab/pkg/spatialgrid"
)

// Point is a 2-D point in tracking-frame coordinates, used for the matched
// correspondences FitTo consumes.
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned region in tracking-frame coordinates.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) toGrid() spatialgrid.Rect {
	return spatialgrid.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}
}

// FitTo fits this field (already sized to the target motion resolution) to
// a set of point correspondences via successive refinement: seed a 2x2
// field from motionHint (or zero), accumulate observed motion with a
// decaying sign-based update, then repeatedly double the resolution and
// repeat until the field reaches its configured size.
func (w *WarpField) FitTo(region Rect, originPoints, warpedPoints []Point, motionHint *Homography) error {
	if len(originPoints) != len(warpedPoints) {
		return fmt.Errorf("warpfield: FitTo: %d origin points vs %d warped points: %w",
			len(originPoints), len(warpedPoints), lvkerr.ErrInvalidInput)
	}

	targetRows, targetCols := w.rows, w.cols

	rows, cols := 2, 2
	field := New(rows, cols)
	defer field.Close()

	if motionHint != nil {
		size := image.Pt(int(region.W), int(region.H))
		if err := field.SetTo(motionHint, size); err != nil {
			return fmt.Errorf("warpfield: FitTo: seeding from motion hint: %w", err)
		}
	}

	weight := 0.8
	align := region

	for {
		accumulateMotion(field, align, originPoints, warpedPoints, weight)

		if rows >= targetRows && cols >= targetCols {
			break
		}

		newRows, newCols := rows*2, cols*2
		if newRows > targetRows {
			newRows = targetRows
		}
		if newCols > targetCols {
			newCols = targetCols
		}

		cellW, cellH := align.W/float64(newCols), align.H/float64(newRows)
		align = Rect{
			X: align.X - cellW/2,
			Y: align.Y - cellH/2,
			W: align.W,
			H: align.H,
		}

		if err := field.Resize(newRows, newCols); err != nil {
			return fmt.Errorf("warpfield: FitTo: upsampling seed: %w", err)
		}
		rows, cols = newRows, newCols
		weight /= 2
	}

	return w.copyFrom(field)
}

// accumulateMotion bins each warped point into field's grid (aligned to
// align) and nudges the cell's stored vector toward the observed motion by
// weight * sign(observed - stored), per component.
func accumulateMotion(field *WarpField, align Rect, origin, warped []Point, weight float64) {
	grid := spatialgrid.NewGrid(field.Rows(), field.Cols(), align.toGrid())
	w32 := float32(weight)

	for i := range warped {
		key, ok := grid.KeyOf(warped[i].X, warped[i].Y)
		if !ok {
			continue
		}
		stored := field.At(key.Col, key.Row)
		observed := Vec2{
			X: float32(origin[i].X - warped[i].X),
			Y: float32(origin[i].Y - warped[i].Y),
		}
		delta := observed.sub(stored)
		field.Set(key.Col, key.Row, Vec2{
			X: stored.X + w32*signf(delta.X),
			Y: stored.Y + w32*signf(delta.Y),
		})
	}
}

func signf(v float32) float32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func (w *WarpField) copyFrom(other *WarpField) error {
	if !w.sameSizeAs(other) {
		return fmt.Errorf("warpfield: copyFrom: %w", lvkerr.ErrSizeMismatch)
	}
	other.grid.CopyTo(&w.grid)
	return nil
}
