// Package feature implements C4 FeatureDetector: grid-constrained FAST
// corner detection with a per-zone self-regulating threshold and a
// suppression grid that keeps the strongest corner per cell, producing a
// spatially well-distributed, temporally stable corner set.
package feature

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/your-org/livestab/pkg/lvkerr"
	"github.com/your-org/livestab/pkg/spatialgrid"
)

// Tuning constants ported from the FAST self-regulation loop: threshold
// range, step size, and the absolute tolerance band around the per-zone
// corner-count target before the threshold is nudged.
const (
	fastMinThreshold     = 10
	fastMaxThreshold     = 250
	fastThresholdStep    = 5
	fastFeatureTolerance = 150
)

// KeyPoint is a detected or propagated corner.
type KeyPoint struct {
	X, Y     float64
	Response float32
}

// Shape is a rows x cols grid shape.
type Shape struct {
	Rows, Cols int
}

// Config tunes the detector. DetectionResolution is the size of the frames
// Detect will be called with.
type Config struct {
	DetectionResolution image.Point
	DetectionRegions    Shape
	FeatureGridShape    Shape
	MinFeatureDensity   float64
	MaxFeatureDensity   float64
}

func (c Config) validate() error {
	if c.DetectionRegions.Rows <= 0 || c.DetectionRegions.Cols <= 0 {
		return lvkerr.NewConfigError("detection_regions", c.DetectionRegions, fmt.Errorf("must be positive"))
	}
	if c.DetectionRegions.Rows > c.DetectionResolution.Y || c.DetectionRegions.Cols > c.DetectionResolution.X {
		return lvkerr.NewConfigError("detection_regions", c.DetectionRegions, fmt.Errorf("must not exceed detection_resolution"))
	}
	if c.FeatureGridShape.Rows <= 0 || c.FeatureGridShape.Cols <= 0 {
		return lvkerr.NewConfigError("feature_grid_shape", c.FeatureGridShape, fmt.Errorf("must be positive"))
	}
	if c.MinFeatureDensity <= 0 || c.MinFeatureDensity > 1 {
		return lvkerr.NewConfigError("min_feature_density", c.MinFeatureDensity, fmt.Errorf("must be in (0,1]"))
	}
	if c.MaxFeatureDensity <= 0 || c.MaxFeatureDensity > 1 {
		return lvkerr.NewConfigError("max_feature_density", c.MaxFeatureDensity, fmt.Errorf("must be in (0,1]"))
	}
	if c.MinFeatureDensity > c.MaxFeatureDensity {
		return lvkerr.NewConfigError("min_feature_density", c.MinFeatureDensity, fmt.Errorf("must be <= max_feature_density"))
	}
	return nil
}

type zone struct {
	bounds    spatialgrid.Rect
	threshold int
	load      int
}

// Detector holds the detection-zone grid and suppression grid across calls.
type Detector struct {
	cfg               Config
	regions           *spatialgrid.SpatialMap[*zone]
	suppression       *spatialgrid.SpatialMap[KeyPoint]
	minFeatureLoad    int
	fastFeatureTarget int
}

// New builds a Detector from cfg, or returns a *lvkerr.ConfigError.
func New(cfg Config) (*Detector, error) {
	d := &Detector{}
	if err := d.Configure(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Configure (re)builds the zone and suppression grids for cfg. Existing
// load/threshold state is discarded, matching reset() semantics on
// reconfiguration.
func (d *Detector) Configure(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	region := spatialgrid.Rect{
		X: 0, Y: 0,
		W: float64(cfg.DetectionResolution.X),
		H: float64(cfg.DetectionResolution.Y),
	}

	suppression := spatialgrid.NewSpatialMap[KeyPoint](cfg.FeatureGridShape.Rows, cfg.FeatureGridShape.Cols, region)
	regions := spatialgrid.NewSpatialMap[*zone](cfg.DetectionRegions.Rows, cfg.DetectionRegions.Cols, region)

	regionW := region.W / float64(cfg.DetectionRegions.Cols)
	regionH := region.H / float64(cfg.DetectionRegions.Rows)
	for r := 0; r < cfg.DetectionRegions.Rows; r++ {
		for c := 0; c < cfg.DetectionRegions.Cols; c++ {
			regions.PlaceAt(spatialgrid.Key{Col: c, Row: r}, &zone{
				bounds: spatialgrid.Rect{
					X: float64(c) * regionW,
					Y: float64(r) * regionH,
					W: regionW,
					H: regionH,
				},
				// Seeded at fastMinThreshold per FeatureDetector.cpp's own
				// region.threshold init, not the higher "initial 70" figure.
				threshold: fastMinThreshold,
			})
		}
	}

	suppressionArea := float64(cfg.FeatureGridShape.Rows * cfg.FeatureGridShape.Cols)
	regionsArea := float64(cfg.DetectionRegions.Rows * cfg.DetectionRegions.Cols)
	maxRegionFeatures := suppressionArea / regionsArea
	densityRatio := cfg.MinFeatureDensity / cfg.MaxFeatureDensity

	d.cfg = cfg
	d.regions = regions
	d.suppression = suppression
	d.minFeatureLoad = int(maxRegionFeatures * densityRatio)
	d.fastFeatureTarget = int(cfg.MaxFeatureDensity * maxRegionFeatures)
	return nil
}

// Detect runs self-regulating FAST over any detection zone whose load has
// fallen to or below the minimum feature load, feeds the results into the
// suppression grid keeping the strongest corner per cell, extracts the
// occupied cells as the output corner set, and returns the suppression
// grid's distribution quality.
func (d *Detector) Detect(frame gocv.Mat) ([]KeyPoint, float64, error) {
	if frame.Empty() {
		return nil, 0, fmt.Errorf("feature: Detect: %w", lvkerr.ErrInvalidInput)
	}
	if frame.Channels() != 1 {
		return nil, 0, fmt.Errorf("feature: Detect: expected single-channel frame: %w", lvkerr.ErrInvalidInput)
	}
	if frame.Cols() != d.cfg.DetectionResolution.X || frame.Rows() != d.cfg.DetectionResolution.Y {
		return nil, 0, fmt.Errorf("feature: Detect: frame size does not match detection_resolution: %w", lvkerr.ErrInvalidInput)
	}

	d.regions.Each(func(key spatialgrid.Key, z *zone) {
		if z.load <= d.minFeatureLoad {
			d.detectInZone(frame, z)
		}
		z.load = 0
	})

	features := make([]KeyPoint, 0, d.suppression.Count())
	d.suppression.Each(func(_ spatialgrid.Key, kp KeyPoint) {
		features = append(features, kp)
	})

	quality := d.suppression.DistributionQuality()
	d.suppression.Clear()
	return features, quality, nil
}

func (d *Detector) detectInZone(frame gocv.Mat, z *zone) {
	bounds := image.Rect(
		int(z.bounds.X), int(z.bounds.Y),
		int(z.bounds.X+z.bounds.W), int(z.bounds.Y+z.bounds.H),
	)
	sub := frame.Region(bounds)
	defer sub.Close()

	fast := gocv.NewFastFeatureDetectorWithParams(z.threshold, true, gocv.FastFeatureDetectorType_9_16)
	defer fast.Close()
	corners := fast.Detect(sub)

	for _, kp := range corners {
		gx, gy := kp.X+z.bounds.X, kp.Y+z.bounds.Y
		key, ok := d.suppression.KeyOf(gx, gy)
		if !ok {
			continue
		}
		candidate := KeyPoint{X: gx, Y: gy, Response: float32(kp.Response)}
		if existing, has := d.suppression.At(key); !has || existing.Response <= candidate.Response {
			d.suppression.EmplaceAt(key, candidate)
		}
	}

	n := len(corners)
	switch {
	case n > d.fastFeatureTarget+fastFeatureTolerance:
		z.threshold = stepToward(z.threshold, fastMaxThreshold, fastThresholdStep)
	case n < d.fastFeatureTarget-fastFeatureTolerance:
		z.threshold = stepToward(z.threshold, fastMinThreshold, fastThresholdStep)
	}
}

func stepToward(current, target, step int) int {
	if current < target {
		next := current + step
		if next > target {
			return target
		}
		return next
	}
	if current > target {
		next := current - step
		if next < target {
			return target
		}
		return next
	}
	return current
}

// Propagate re-inserts each inlier corner into the suppression grid and
// increments the load of the detection zone it falls in. Called by C5
// after tracking so zones with enough propagated corners are skipped on
// the next Detect call. Out-of-bounds features are silently ignored.
func (d *Detector) Propagate(features []KeyPoint) {
	for _, f := range features {
		key, ok := d.suppression.KeyOf(f.X, f.Y)
		if !ok {
			continue
		}
		d.suppression.EmplaceAt(key, f)

		if rkey, ok := d.regions.KeyOf(f.X, f.Y); ok {
			if z, has := d.regions.At(rkey); has {
				z.load++
			}
		}
	}
}

// Reset clears the suppression grid and every zone's load, forcing full
// detection on the next Detect call.
func (d *Detector) Reset() {
	d.suppression.Clear()
	d.regions.Each(func(_ spatialgrid.Key, z *zone) {
		z.load = 0
	})
}

// MaxFeatureCapacity returns the suppression grid's total cell count.
func (d *Detector) MaxFeatureCapacity() int {
	return d.suppression.Rows() * d.suppression.Cols()
}

// MinFeatureCapacity returns the minimum total corner count expected once
// every zone is above its minimum feature load.
func (d *Detector) MinFeatureCapacity() int {
	return d.minFeatureLoad * d.regions.Rows() * d.regions.Cols()
}
