// Package smoother implements C6 PathSmoother: a symmetric windowed Gaussian
// filter over an accumulated motion path, with drift-adaptive sigma so the
// smoothed trace never pulls the stable region outside the frame.
package smoother

import (
	"fmt"
	"image"
	"math"

	"github.com/your-org/livestab/pkg/lvkerr"
	"github.com/your-org/livestab/pkg/streambuf"
	"github.com/your-org/livestab/pkg/warpfield"
)

const sigmaEMAFactor = 0.08

// Config tunes the smoother.
type Config struct {
	// MotionResolution is (cols,rows) of every WarpField handled by this
	// smoother; must match the tracker's.
	MotionResolution image.Point
	// FrameSize is the pixel (width,height) of the frames the motion this
	// smoother receives was measured against. The path and its correction
	// are carried in frame pixels (pkg/tracker scales motion up from its
	// tracking resolution before returning it), so the corrective limit
	// L = SceneMargins * FrameSize must be computed in the same units.
	FrameSize image.Point
	// PathPredictionFrames is the look-ahead radius r; the path window is
	// 2r+1 wide and the output delay is r+1 frames.
	PathPredictionFrames int
	// SceneMargins is the fraction of each edge treated as non-displayable
	// corrective budget.
	SceneMargins float64
	// SigmaMin/SigmaMax bound the adaptive Gaussian smoothing sigma.
	SigmaMin, SigmaMax float64
	// ClampToMargins restricts the emitted correction to the scene margins.
	ClampToMargins bool
	// ForceRigidity applies WarpField.Undistort to the correction.
	ForceRigidity     bool
	RigidityTolerance float64
}

func (c Config) validate() error {
	if c.PathPredictionFrames < 1 {
		return lvkerr.NewConfigError("path_prediction_frames", c.PathPredictionFrames, fmt.Errorf("must be >= 1"))
	}
	if c.MotionResolution.X < 2 || c.MotionResolution.Y < 2 {
		return lvkerr.NewConfigError("motion_resolution", c.MotionResolution, fmt.Errorf("must be at least 2x2"))
	}
	if c.FrameSize.X <= 0 || c.FrameSize.Y <= 0 {
		return lvkerr.NewConfigError("frame_size", c.FrameSize, fmt.Errorf("must have positive width and height"))
	}
	if c.SceneMargins < 0 || c.SceneMargins >= 1 {
		return lvkerr.NewConfigError("scene_margins", c.SceneMargins, fmt.Errorf("must be in [0,1)"))
	}
	if c.SigmaMin <= 0 || c.SigmaMax < c.SigmaMin {
		return lvkerr.NewConfigError("sigma_range", [2]float64{c.SigmaMin, c.SigmaMax}, fmt.Errorf("sigma_min must be > 0 and <= sigma_max"))
	}
	if c.RigidityTolerance < 0 || c.RigidityTolerance > 1 {
		return lvkerr.NewConfigError("rigidity_tolerance", c.RigidityTolerance, fmt.Errorf("must be in [0,1]"))
	}
	return nil
}

func defaultConfig(cfg Config) Config {
	if cfg.SceneMargins == 0 {
		cfg.SceneMargins = 0.1
	}
	if cfg.SigmaMin == 0 {
		cfg.SigmaMin = 3
	}
	if cfg.SigmaMax == 0 {
		cfg.SigmaMax = 13
	}
	return cfg
}

// PathSmoother accumulates per-frame motion into a path and emits a
// low-phase-distortion smoothed correction, delayed by r frames.
type PathSmoother struct {
	cfg   Config
	path  *streambuf.Buffer[*warpfield.WarpField]
	trace *warpfield.WarpField
	sigma float64

	// callsSinceRestart gates readiness at r+1 calls (the causal delay),
	// independent of the path buffer's own size: the buffer is always kept
	// full by padding its oldest (pre-restart) end with identity fields,
	// per spec.md's "pre-filled ... so newest() is defined" note generalized
	// to the whole window. See DESIGN.md.
	callsSinceRestart int
}

// New builds a PathSmoother from cfg, applying documented defaults for any
// zero-valued optional field.
func New(cfg Config) (*PathSmoother, error) {
	cfg = defaultConfig(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &PathSmoother{
		cfg:   cfg,
		sigma: cfg.SigmaMin,
	}
	s.Restart()
	return s, nil
}

// Close releases native resources held by the path buffer and trace.
func (s *PathSmoother) Close() error {
	s.path.Each(func(_ int, f *warpfield.WarpField) { f.Close() })
	if s.trace != nil {
		s.trace.Close()
	}
	return nil
}

// TimeDelay returns r, the number of frames the smoother holds back before
// producing a ready correction.
func (s *PathSmoother) TimeDelay() int { return s.cfg.PathPredictionFrames }

// SceneMargins returns the fraction of each edge considered non-displayable.
func (s *PathSmoother) SceneMargins() float64 { return s.cfg.SceneMargins }

// Restart clears the path and refills it with identity WarpFields, and
// resets sigma and the trace to their initial values.
func (s *PathSmoother) Restart() {
	if s.path != nil {
		s.path.Each(func(_ int, f *warpfield.WarpField) { f.Close() })
	}
	window := 2*s.cfg.PathPredictionFrames + 1
	s.path = streambuf.New[*warpfield.WarpField](window)
	for i := 0; i < window; i++ {
		s.path.Push(warpfield.New(s.cfg.MotionResolution.Y, s.cfg.MotionResolution.X))
	}
	if s.trace != nil {
		s.trace.Close()
	}
	s.trace = warpfield.New(s.cfg.MotionResolution.Y, s.cfg.MotionResolution.X)
	s.sigma = s.cfg.SigmaMin
	s.callsSinceRestart = 0
}

// Next advances the path with motion and, once warmed up, returns the
// smoothed correction for the frame that entered the path window r steps
// ago. ready is false during warm-up. The caller owns the returned field.
func (s *PathSmoother) Next(motion *warpfield.WarpField) (correction *warpfield.WarpField, ready bool, err error) {
	newest := *s.path.Newest(0)
	advanced, err := newest.Add(motion)
	if err != nil {
		return nil, false, fmt.Errorf("smoother: Next: %w", err)
	}
	oldest := *s.path.Oldest(0)
	s.path.Push(advanced)
	oldest.Close()
	s.callsSinceRestart++

	if s.callsSinceRestart <= s.cfg.PathPredictionFrames+1 {
		return nil, false, nil
	}

	curr := *s.path.Centre(0)

	limitX := float32(s.cfg.SceneMargins * float64(s.cfg.FrameSize.X))
	limitY := float32(s.cfg.SceneMargins * float64(s.cfg.FrameSize.Y))
	maxDrift := 0.0
	{
		diff, derr := s.trace.Sub(curr)
		if derr != nil {
			return nil, false, fmt.Errorf("smoother: Next: %w", derr)
		}
		mean := diff.Mean()
		diff.Close()
		driftX := math.Abs(float64(mean.X)) / math.Max(float64(limitX), 1e-9)
		driftY := math.Abs(float64(mean.Y)) / math.Max(float64(limitY), 1e-9)
		maxDrift = math.Max(driftX, driftY)
		if maxDrift > 1 {
			maxDrift = 1
		}
	}

	target := s.cfg.SigmaMin + (s.cfg.SigmaMax-s.cfg.SigmaMin)*(1-maxDrift)
	s.sigma = ema(s.sigma, target, sigmaEMAFactor)

	kernel := gaussianKernel(s.path.Size(), s.sigma)

	newTrace := warpfield.New(s.cfg.MotionResolution.Y, s.cfg.MotionResolution.X)
	var combineErr error
	s.path.Each(func(i int, f *warpfield.WarpField) {
		if combineErr != nil {
			return
		}
		combineErr = newTrace.Combine(f, kernel[i])
	})
	if combineErr != nil {
		newTrace.Close()
		return nil, false, fmt.Errorf("smoother: Next: %w", combineErr)
	}
	s.trace.Close()
	s.trace = newTrace

	corr, err := s.trace.Sub(curr)
	if err != nil {
		return nil, false, fmt.Errorf("smoother: Next: %w", err)
	}

	if s.cfg.ClampToMargins {
		corr.Clamp(warpfield.Vec2{X: limitX, Y: limitY})
	}
	if s.cfg.ForceRigidity {
		corr.Undistort(s.cfg.RigidityTolerance)
	}

	return corr, true, nil
}

func ema(prev, sample, factor float64) float64 {
	return prev + factor*(sample-prev)
}

// gaussianKernel builds a normalized length-n 1-D Gaussian kernel with the
// given standard deviation, centred on n/2.
func gaussianKernel(n int, sigma float64) []float64 {
	kernel := make([]float64, n)
	centre := float64(n-1) / 2
	sum := 0.0
	for i := range kernel {
		d := float64(i) - centre
		v := math.Exp(-(d * d) / (2 * sigma * sigma))
		kernel[i] = v
		sum += v
	}
	if sum > 0 {
		for i := range kernel {
			kernel[i] /= sum
		}
	}
	return kernel
}
