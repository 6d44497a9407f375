// Package tracker implements C5 FrameTracker: estimates a WarpField
// describing how the previous tracking-resolution frame maps onto the
// current one, via grid-constrained FAST (pkg/feature), pyramidal
// Lucas-Kanade optical flow, and robust homography/mesh fitting
// (pkg/warpfield).
package tracker

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/your-org/livestab/pkg/feature"
	"github.com/your-org/livestab/pkg/lvkerr"
	"github.com/your-org/livestab/pkg/warpfield"
)

const (
	metricSmoothingFactor   = 0.05
	goodDistributionQuality = 0.6
)

// Config tunes the tracker.
type Config struct {
	// MotionResolution is (cols,rows) of the produced WarpField; (2,2) is
	// exactly a homography.
	MotionResolution image.Point
	// TrackingResolution is the downscaled size at which detection and
	// optical flow run.
	TrackingResolution    image.Point
	MinimumTrackingPoints int
	Detector              feature.Config
}

func (c Config) validate() error {
	if c.MinimumTrackingPoints < 4 {
		return lvkerr.NewConfigError("minimum_tracking_points", c.MinimumTrackingPoints, fmt.Errorf("must be >= 4"))
	}
	if c.MotionResolution.X < 2 || c.MotionResolution.Y < 2 {
		return lvkerr.NewConfigError("motion_resolution", c.MotionResolution, fmt.Errorf("must be at least 2x2"))
	}
	if c.TrackingResolution.X < 1 || c.TrackingResolution.Y < 1 {
		return lvkerr.NewConfigError("tracking_resolution", c.TrackingResolution, fmt.Errorf("must be positive"))
	}
	return nil
}

// sharpenKernel counteracts the loss of sharpness from downscaling to
// tracking resolution.
var sharpenKernel = [9]float32{
	0, -0.5, 0,
	-0.5, 3, -0.5,
	0, -0.5, 0,
}

// Tracker holds the two most recent tracking views and cross-call EMA
// quality metrics. Two logical states: Cold (no previous frame) and Hot
// (have one) — tracked implicitly via firstFrame.
type Tracker struct {
	cfg        Config
	detector   *feature.Detector
	kernel     gocv.Mat
	prevView   gocv.Mat
	nextView   gocv.Mat
	firstFrame bool

	frameStability      float64
	distributionQuality float64
}

// New builds a Tracker from cfg.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	det, err := feature.New(cfg.Detector)
	if err != nil {
		return nil, err
	}

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	for i, v := range sharpenKernel {
		kernel.SetFloatAt(i/3, i%3, v)
	}

	t := &Tracker{
		cfg:        cfg,
		detector:   det,
		kernel:     kernel,
		prevView:   gocv.NewMat(),
		nextView:   gocv.NewMat(),
		firstFrame: true,
	}
	return t, nil
}

// Close releases native resources.
func (t *Tracker) Close() error {
	t.kernel.Close()
	t.prevView.Close()
	t.nextView.Close()
	return nil
}

func (t *Tracker) FrameStability() float64         { return t.frameStability }
func (t *Tracker) TrackingQuality() float64        { return t.distributionQuality }
func (t *Tracker) TrackingResolution() image.Point { return t.cfg.TrackingResolution }

// Restart clears the previous tracking view and resets the detector,
// forcing the Cold state on the next Track call.
func (t *Tracker) Restart() {
	t.firstFrame = true
	t.detector.Reset()
}

// Track estimates the motion between the previous and current tracking
// views. ok is false on a "no_motion" result (first frame, or an
// under-count at detection/matching/estimation) — this is the internal
// TrackingUnderflow value, never surfaced as an error.
func (t *Tracker) Track(next gocv.Mat) (motion *warpfield.WarpField, ok bool, err error) {
	if next.Empty() {
		return nil, false, fmt.Errorf("tracker: Track: %w", lvkerr.ErrInvalidInput)
	}
	if next.Channels() != 1 {
		return nil, false, fmt.Errorf("tracker: Track: expected single-channel frame: %w", lvkerr.ErrInvalidInput)
	}

	view := gocv.NewMat()
	gocv.Resize(next, &view, t.cfg.TrackingResolution, 0, 0, gocv.InterpolationArea)
	sharpened := gocv.NewMat()
	gocv.Filter2D(view, &sharpened, -1, t.kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	view.Close()

	t.prevView.Close()
	t.prevView = t.nextView
	t.nextView = sharpened

	if t.firstFrame {
		t.firstFrame = false
		return nil, false, nil
	}

	tracked, quality, err := t.detector.Detect(t.prevView)
	if err != nil {
		return nil, false, fmt.Errorf("tracker: Track: %w", err)
	}
	if len(tracked) < t.cfg.MinimumTrackingPoints {
		return nil, false, nil
	}
	t.distributionQuality = ema(t.distributionQuality, quality, metricSmoothingFactor)

	prevPts := pointsToMat(tracked)
	defer prevPts.Close()

	nextPts := gocv.NewMat()
	status := gocv.NewMat()
	flowErr := gocv.NewMat()
	defer nextPts.Close()
	defer status.Close()
	defer flowErr.Close()
	gocv.CalcOpticalFlowPyrLK(t.prevView, t.nextView, prevPts, nextPts, &status, &flowErr)

	matchedOrigin, matchedWarped := filterByStatus(tracked, nextPts, status)
	if len(matchedWarped) < t.cfg.MinimumTrackingPoints {
		return nil, false, nil
	}

	forcePartial := t.distributionQuality < goodDistributionQuality
	hom, inlierOrigin, inlierWarped, err := estimateHomography(matchedOrigin, matchedWarped, forcePartial)
	if err != nil {
		// Estimation failure is a tracking underflow, not a hard error.
		return nil, false, nil
	}
	defer hom.Close()

	t.detector.Propagate(inlierWarped)
	t.frameStability = ema(t.frameStability, float64(len(inlierWarped))/float64(len(matchedWarped)), metricSmoothingFactor)

	field := warpfield.New(t.cfg.MotionResolution.Y, t.cfg.MotionResolution.X)

	if t.cfg.MotionResolution.X == 2 && t.cfg.MotionResolution.Y == 2 {
		if err := field.SetTo(hom, t.cfg.TrackingResolution); err != nil {
			field.Close()
			return nil, false, fmt.Errorf("tracker: Track: %w", err)
		}
	} else {
		region := warpfield.Rect{
			X: 0, Y: 0,
			W: float64(t.cfg.TrackingResolution.X),
			H: float64(t.cfg.TrackingResolution.Y),
		}
		if err := field.FitTo(region, toWarpPoints(inlierOrigin), toWarpPoints(inlierWarped), hom); err != nil {
			field.Close()
			return nil, false, fmt.Errorf("tracker: Track: %w", err)
		}
	}

	scaleX := float64(next.Cols()) / float64(t.cfg.TrackingResolution.X)
	scaleY := float64(next.Rows()) / float64(t.cfg.TrackingResolution.Y)

	scaleField := warpfield.New(field.Rows(), field.Cols())
	for r := 0; r < field.Rows(); r++ {
		for c := 0; c < field.Cols(); c++ {
			scaleField.Set(c, r, warpfield.Vec2{X: float32(scaleX), Y: float32(scaleY)})
		}
	}
	scaled, mulErr := field.ElementwiseMul(scaleField)
	field.Close()
	scaleField.Close()
	if mulErr != nil {
		return nil, false, fmt.Errorf("tracker: Track: scaling to frame resolution: %w", mulErr)
	}

	return scaled, true, nil
}

func ema(prev, sample, factor float64) float64 {
	return prev + factor*(sample-prev)
}

func pointsToMat(pts []feature.KeyPoint) gocv.Mat {
	m := gocv.NewMatWithSize(len(pts), 1, gocv.MatTypeCV32FC2)
	for i, p := range pts {
		m.SetVecfAt(i, 0, gocv.Vecf{float32(p.X), float32(p.Y)})
	}
	return m
}

func toPoint2fVector(pts []feature.KeyPoint) gocv.Point2fVector {
	p2f := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		p2f[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return gocv.NewPoint2fVectorFromPoints(p2f)
}

func toWarpPoints(pts []feature.KeyPoint) []warpfield.Point {
	out := make([]warpfield.Point, len(pts))
	for i, p := range pts {
		out[i] = warpfield.Point{X: p.X, Y: p.Y}
	}
	return out
}

// filterByStatus drops matches whose optical-flow status is not "found",
// returning parallel origin/warped slices with the survivors.
func filterByStatus(origin []feature.KeyPoint, nextPts, status gocv.Mat) (survivedOrigin, survivedWarped []feature.KeyPoint) {
	n := status.Rows()
	survivedOrigin = make([]feature.KeyPoint, 0, n)
	survivedWarped = make([]feature.KeyPoint, 0, n)
	for i := 0; i < n; i++ {
		if status.GetUCharAt(i, 0) == 0 {
			continue
		}
		v := nextPts.GetVecfAt(i, 0)
		survivedOrigin = append(survivedOrigin, origin[i])
		survivedWarped = append(survivedWarped, feature.KeyPoint{X: float64(v[0]), Y: float64(v[1])})
	}
	return survivedOrigin, survivedWarped
}

// estimateHomography fits a robust homography (RANSAC) between origin and
// warped, or a partial-affine transform when forcePartial is set (used when
// tracking-point distribution quality is poor, to avoid dominant local
// motion producing global distortion). The RANSAC path returns the inlier
// subset; the partial-affine path returns origin and warped unfiltered.
func estimateHomography(origin, warped []feature.KeyPoint, forcePartial bool) (*warpfield.Homography, []feature.KeyPoint, []feature.KeyPoint, error) {
	srcMat := pointsToMat(origin)
	defer srcMat.Close()
	dstMat := pointsToMat(warped)
	defer dstMat.Close()

	if forcePartial {
		srcVec := toPoint2fVector(origin)
		defer srcVec.Close()
		dstVec := toPoint2fVector(warped)
		defer dstVec.Close()

		affine := gocv.EstimateAffinePartial2D(srcVec, dstVec)
		if affine.Empty() {
			affine.Close()
			return nil, nil, nil, fmt.Errorf("tracker: estimateHomography: partial-affine estimation failed")
		}
		hom, err := warpfield.FromAffineMatrix(affine)
		affine.Close()
		if err != nil {
			return nil, nil, nil, err
		}
		return hom, origin, warped, nil
	}

	mask := gocv.NewMat()
	defer mask.Close()
	h := gocv.FindHomography(srcMat, dstMat, gocv.HomographyMethodRANSAC, 3.0, &mask, 2000, 0.99)
	if h.Empty() {
		h.Close()
		return nil, nil, nil, fmt.Errorf("tracker: estimateHomography: homography estimation failed")
	}
	hom, err := warpfield.WrapMatrix(h)
	h.Close()
	if err != nil {
		return nil, nil, nil, err
	}

	inlierOrigin := make([]feature.KeyPoint, 0, len(origin))
	inlierWarped := make([]feature.KeyPoint, 0, len(warped))
	for i := range origin {
		if mask.GetUCharAt(i, 0) != 0 {
			inlierOrigin = append(inlierOrigin, origin[i])
			inlierWarped = append(inlierWarped, warped[i])
		}
	}
	return hom, inlierOrigin, inlierWarped, nil
}
