// Package stabilizer implements C7 StabilizationPipeline: the top-level
// driver that owns a FrameTracker (C5) and PathSmoother (C6), applies
// quality-assurance trust-factor gating, and emits stabilized frames with a
// fixed delay.
package stabilizer

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/your-org/livestab/pkg/feature"
	"github.com/your-org/livestab/pkg/lvkerr"
	"github.com/your-org/livestab/pkg/smoother"
	"github.com/your-org/livestab/pkg/streambuf"
	"github.com/your-org/livestab/pkg/tracker"
	"github.com/your-org/livestab/pkg/warpfield"
)

const qaUpdateRate = 0.05
const qaBlendStep = 0.05

// Config tunes the whole pipeline; it composes the tracker and smoother
// configuration surfaces with the pipeline's own QA and output toggles.
type Config struct {
	MotionResolution   image.Point
	TrackingResolution image.Point
	// FrameSize is the pixel (width,height) of frames arriving at Process;
	// it fixes the units of the smoother's corrective limit
	// (scene_margins * frame_size) and must match the actual frame size for
	// the life of the pipeline (see cmd/worker, which sets it from the
	// first decoded frame per stream).
	FrameSize image.Point

	PathPredictionFrames int
	SceneMargins         float64
	SigmaMin, SigmaMax   float64

	MinTrackingQuality float64
	MinSceneQuality    float64

	StabilizeOutput   bool
	CropToMargins     bool
	ClampToMargins    bool
	ForceRigidity     bool
	RigidityTolerance float64

	MinimumTrackingPoints int
	MinFeatureDensity     float64
	MaxFeatureDensity     float64
	DetectionRegions      feature.Shape
	FeatureGridShape      feature.Shape

	BackgroundColor color.RGBA
}

func (c Config) validate() error {
	if c.MinTrackingQuality < 0 || c.MinTrackingQuality > 1 {
		return lvkerr.NewConfigError("min_tracking_quality", c.MinTrackingQuality, fmt.Errorf("must be in [0,1]"))
	}
	if c.MinSceneQuality < 0 || c.MinSceneQuality > 1 {
		return lvkerr.NewConfigError("min_scene_quality", c.MinSceneQuality, fmt.Errorf("must be in [0,1]"))
	}
	if c.FrameSize.X <= 0 || c.FrameSize.Y <= 0 {
		return lvkerr.NewConfigError("frame_size", c.FrameSize, fmt.Errorf("must have positive width and height"))
	}
	return nil
}

func (c Config) trackerConfig() tracker.Config {
	return tracker.Config{
		MotionResolution:      c.MotionResolution,
		TrackingResolution:    c.TrackingResolution,
		MinimumTrackingPoints: c.MinimumTrackingPoints,
		Detector: feature.Config{
			DetectionResolution: c.TrackingResolution,
			DetectionRegions:    c.DetectionRegions,
			FeatureGridShape:    c.FeatureGridShape,
			MinFeatureDensity:   c.MinFeatureDensity,
			MaxFeatureDensity:   c.MaxFeatureDensity,
		},
	}
}

func (c Config) smootherConfig() smoother.Config {
	return smoother.Config{
		MotionResolution:     c.MotionResolution,
		FrameSize:            c.FrameSize,
		PathPredictionFrames: c.PathPredictionFrames,
		SceneMargins:         c.SceneMargins,
		SigmaMin:             c.SigmaMin,
		SigmaMax:             c.SigmaMax,
		ClampToMargins:       c.ClampToMargins,
		ForceRigidity:        c.ForceRigidity,
		RigidityTolerance:    c.RigidityTolerance,
	}
}

// Pipeline is the top-level video stabilization driver. One instance
// processes one logical video stream; process is sequential and
// non-reentrant, but independent instances may run concurrently.
type Pipeline struct {
	cfg        Config
	tr         *tracker.Tracker
	sm         *smoother.PathSmoother
	frames     *streambuf.Buffer[gocv.Mat]
	nullMotion *warpfield.WarpField

	sceneQuality float64
	trustFactor  float64
}

// New constructs a Pipeline from cfg.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tr, err := tracker.New(cfg.trackerConfig())
	if err != nil {
		return nil, err
	}
	sm, err := smoother.New(cfg.smootherConfig())
	if err != nil {
		tr.Close()
		return nil, err
	}

	p := &Pipeline{
		cfg:        cfg,
		tr:         tr,
		sm:         sm,
		frames:     streambuf.New[gocv.Mat](sm.TimeDelay() + 1),
		nullMotion: warpfield.New(cfg.MotionResolution.Y, cfg.MotionResolution.X),
	}
	p.sceneQuality = 1.0
	p.trustFactor = 0.0
	return p, nil
}

// Close releases native resources.
func (p *Pipeline) Close() error {
	p.tr.Close()
	p.sm.Close()
	p.nullMotion.Close()
	p.frames.Each(func(_ int, m gocv.Mat) { m.Close() })
	return nil
}

// Configure replaces the pipeline's tuning. If stabilization is being
// disabled (true -> false), the tracker/smoother context is reset to avoid a
// discontinuity if re-enabled later.
func (p *Pipeline) Configure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	if p.cfg.StabilizeOutput && !cfg.StabilizeOutput {
		p.resetContext()
	}

	newTr, err := tracker.New(cfg.trackerConfig())
	if err != nil {
		return err
	}
	newSm, err := smoother.New(cfg.smootherConfig())
	if err != nil {
		newTr.Close()
		return err
	}

	p.tr.Close()
	p.sm.Close()
	p.nullMotion.Close()
	p.tr = newTr
	p.sm = newSm
	p.nullMotion = warpfield.New(cfg.MotionResolution.Y, cfg.MotionResolution.X)

	newQueueCap := newSm.TimeDelay() + 1
	if newQueueCap != p.frames.Capacity() {
		p.frames.Each(func(_ int, m gocv.Mat) { m.Close() })
		p.frames = streambuf.New[gocv.Mat](newQueueCap)
	}

	p.cfg = cfg
	return nil
}

// Restart clears all pipeline state, returning it to its just-constructed
// condition (scene_quality=1, trust_factor=0).
func (p *Pipeline) Restart() {
	p.sceneQuality = 1.0
	p.frames.Each(func(_ int, m gocv.Mat) { m.Close() })
	p.frames.Clear()
	p.resetContext()
}

func (p *Pipeline) resetContext() {
	p.tr.Restart()
	p.sm.Restart()
	p.trustFactor = 0.0
}

// Process runs one frame through the pipeline. ok is false when the output
// delay has not yet elapsed ("not ready"); out is valid only when ok is true
// and must be closed by the caller.
func (p *Pipeline) Process(frame gocv.Mat) (out gocv.Mat, ok bool, err error) {
	if frame.Empty() {
		return gocv.Mat{}, false, fmt.Errorf("stabilizer: Process: %w", lvkerr.ErrInvalidInput)
	}
	if c := frame.Channels(); c != 1 && c != 3 && c != 4 {
		return gocv.Mat{}, false, fmt.Errorf("stabilizer: Process: unsupported channel count %d: %w", c, lvkerr.ErrInvalidInput)
	}
	if frame.Cols() != p.cfg.FrameSize.X || frame.Rows() != p.cfg.FrameSize.Y {
		return gocv.Mat{}, false, fmt.Errorf("stabilizer: Process: frame size %dx%d does not match frame_size %dx%d: %w",
			frame.Cols(), frame.Rows(), p.cfg.FrameSize.X, p.cfg.FrameSize.Y, lvkerr.ErrInvalidInput)
	}

	if !p.cfg.StabilizeOutput {
		return p.processDisabled(frame)
	}

	view := gocv.NewMat()
	if frame.Channels() == 1 {
		view = frame.Clone()
	} else {
		gocv.CvtColor(frame, &view, gocv.ColorBGRToGray)
	}

	motion, tracked, terr := p.tr.Track(view)
	view.Close()
	if terr != nil {
		return gocv.Mat{}, false, fmt.Errorf("stabilizer: Process: %w", terr)
	}
	if !tracked {
		motion = p.nullMotion.Clone()
	}
	defer motion.Close()

	trackingQuality := p.tr.TrackingQuality()
	p.sceneQuality = ema(p.sceneQuality, trackingQuality, qaUpdateRate)

	switch {
	case trackingQuality < p.cfg.MinTrackingQuality:
		p.trustFactor = 0.0
	case p.sceneQuality < p.cfg.MinSceneQuality:
		p.trustFactor = step(p.trustFactor, 0.0, qaBlendStep)
	default:
		p.trustFactor = step(p.trustFactor, 1.0, qaBlendStep)
	}

	scaled := motion.Scale(p.trustFactor)
	defer scaled.Close()

	oldest, haveOldest := p.pushFrame(frame)

	correction, ready, serr := p.sm.Next(scaled)
	if serr != nil {
		if haveOldest {
			oldest.Close()
		}
		return gocv.Mat{}, false, fmt.Errorf("stabilizer: Process: %w", serr)
	}

	if !ready || !haveOldest {
		if correction != nil {
			correction.Close()
		}
		if haveOldest {
			oldest.Close()
		}
		return gocv.Mat{}, false, nil
	}
	defer correction.Close()
	defer oldest.Close()

	result := gocv.NewMat()
	if err := correction.Apply(oldest, &result, warpfield.WithConstantBorder(p.cfg.BackgroundColor)); err != nil {
		result.Close()
		return gocv.Mat{}, false, fmt.Errorf("stabilizer: Process: %w", err)
	}
	if p.cfg.CropToMargins {
		result = p.cropToMargins(result)
	}
	return result, true, nil
}

// processDisabled implements the optimized passthrough path: no tracking or
// smoothing runs, only the frame-queue delay is upheld (so re-enabling
// stabilization resumes with a consistent timing offset).
func (p *Pipeline) processDisabled(frame gocv.Mat) (gocv.Mat, bool, error) {
	oldest, haveOldest := p.pushFrame(frame)
	if !haveOldest {
		return gocv.Mat{}, false, nil
	}
	defer oldest.Close()

	if !p.cfg.CropToMargins {
		return oldest.Clone(), true, nil
	}
	return p.cropToMargins(oldest.Clone()), true, nil
}

// cropToMargins crops frame in to its scene-stable region (the rectangle
// remaining after shrinking by SceneMargins per edge) and resizes back up to
// the original frame size. It takes ownership of frame and returns a new Mat.
func (p *Pipeline) cropToMargins(frame gocv.Mat) gocv.Mat {
	region := marginRegion(frame.Cols(), frame.Rows(), p.cfg.SceneMargins)
	cropped := frame.Region(region)
	out := gocv.NewMat()
	gocv.Resize(cropped, &out, image.Pt(frame.Cols(), frame.Rows()), 0, 0, gocv.InterpolationLinear)
	cropped.Close()
	frame.Close()
	return out
}

// pushFrame enqueues frame (cloned, since the caller retains ownership of
// the original). If the queue was already full, its oldest entry is about to
// be evicted by the push (the ring buffer overwrites in place); that entry
// is returned to the caller, who takes ownership of it and must Close it.
func (p *Pipeline) pushFrame(frame gocv.Mat) (oldest gocv.Mat, hadOldest bool) {
	if p.frames.IsFull() {
		oldest = *p.frames.Oldest(0)
		hadOldest = true
	}
	p.frames.Push(frame.Clone())
	return oldest, hadOldest
}

// FrameDelay returns the fixed number of frames between input and output.
func (p *Pipeline) FrameDelay() int { return p.sm.TimeDelay() + 1 }

func (p *Pipeline) TrustFactor() float64  { return p.trustFactor }
func (p *Pipeline) SceneQuality() float64 { return p.sceneQuality }

func ema(prev, sample, factor float64) float64 {
	return prev + factor*(sample-prev)
}

// step moves prev toward target by at most delta.
func step(prev, target, delta float64) float64 {
	if prev < target {
		next := prev + delta
		if next > target {
			return target
		}
		return next
	}
	if prev > target {
		next := prev - delta
		if next < target {
			return target
		}
		return next
	}
	return prev
}

func marginRegion(cols, rows int, margin float64) image.Rectangle {
	dx := int(float64(cols) * margin)
	dy := int(float64(rows) * margin)
	if 2*dx >= cols {
		dx = 0
	}
	if 2*dy >= rows {
		dy = 0
	}
	return image.Rect(dx, dy, cols-dx, rows-dy)
}
