// Package livestab re-exports the public surface of the stabilization
// library (warpfield, spatialgrid, streambuf, feature, tracker, smoother,
// stabilizer) as a single import, mirroring the umbrella role of the
// original LiveVisionKit.hpp header.
package livestab

import (
	"github.com/your-org/livestab/pkg/feature"
	"github.com/your-org/livestab/pkg/smoother"
	"github.com/your-org/livestab/pkg/spatialgrid"
	"github.com/your-org/livestab/pkg/stabilizer"
	"github.com/your-org/livestab/pkg/streambuf"
	"github.com/your-org/livestab/pkg/tracker"
	"github.com/your-org/livestab/pkg/warpfield"
)

// Pipeline is the top-level stabilization driver (C7).
type Pipeline = stabilizer.Pipeline

// PipelineConfig tunes a Pipeline.
type PipelineConfig = stabilizer.Config

// WarpField is a dense grid of backward-displacement vectors (C1).
type WarpField = warpfield.WarpField

// Vec2 is a single displacement vector.
type Vec2 = warpfield.Vec2

// Homography is a 3x3 perspective transform (C1 special case).
type Homography = warpfield.Homography

// SpatialMap is a generic occupancy grid over a rectangular region (C2).
type SpatialMap[V any] = spatialgrid.SpatialMap[V]

// StreamBuffer is a fixed-capacity ring buffer with windowed convolution (C3).
type StreamBuffer[T any] = streambuf.Buffer[T]

// FeatureDetector performs grid-constrained adaptive FAST detection (C4).
type FeatureDetector = feature.Detector

// FeatureDetectorConfig tunes a FeatureDetector.
type FeatureDetectorConfig = feature.Config

// FrameTracker estimates motion between successive frames (C5).
type FrameTracker = tracker.Tracker

// FrameTrackerConfig tunes a FrameTracker.
type FrameTrackerConfig = tracker.Config

// PathSmoother computes the smoothed camera trajectory (C6).
type PathSmoother = smoother.PathSmoother

// PathSmootherConfig tunes a PathSmoother.
type PathSmootherConfig = smoother.Config

// NewPipeline constructs a Pipeline from cfg.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	return stabilizer.New(cfg)
}

// IdentityHomography returns the 3x3 identity transform.
func IdentityHomography() *Homography {
	return warpfield.IdentityHomography()
}

// NewWarpField builds an identity field of the given shape.
func NewWarpField(rows, cols int) *WarpField {
	return warpfield.New(rows, cols)
}
