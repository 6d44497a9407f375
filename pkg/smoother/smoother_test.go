package smoother

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/livestab/pkg/warpfield"
)

func constantMotion(rows, cols int, v warpfield.Vec2) *warpfield.WarpField {
	f := warpfield.New(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			f.Set(c, r, v)
		}
	}
	return f
}

func testConfig() Config {
	return Config{
		MotionResolution:     image.Pt(2, 2),
		FrameSize:            image.Pt(640, 480),
		PathPredictionFrames: 3,
		SceneMargins:         0.1,
		SigmaMin:             3,
		SigmaMax:             13,
	}
}

func TestNewRejectsZeroPredictionFrames(t *testing.T) {
	cfg := testConfig()
	cfg.PathPredictionFrames = 0
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsSubHomographyMotionResolution(t *testing.T) {
	cfg := testConfig()
	cfg.MotionResolution = image.Pt(1, 1)
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsZeroFrameSize(t *testing.T) {
	cfg := testConfig()
	cfg.FrameSize = image.Point{}
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsInvertedSigmaRange(t *testing.T) {
	cfg := testConfig()
	cfg.SigmaMin = 20
	cfg.SigmaMax = 5
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNextWarmsUpThenReturnsReady(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	r := cfg.PathPredictionFrames
	zero := warpfield.New(cfg.MotionResolution.Y, cfg.MotionResolution.X)
	defer zero.Close()

	for i := 0; i < r+1; i++ {
		_, ready, err := s.Next(zero)
		require.NoError(t, err)
		assert.False(t, ready, "call %d should not be ready", i+1)
	}

	corr, ready, err := s.Next(zero)
	require.NoError(t, err)
	require.True(t, ready)
	defer corr.Close()

	// With a stream of identical (zero) motions, the emitted correction
	// after warm-up should be the identity warp, up to float error.
	mean := corr.Mean()
	assert.InDelta(t, 0, mean.X, 1e-4)
	assert.InDelta(t, 0, mean.Y, 1e-4)
}

func TestRestartResetsWarmup(t *testing.T) {
	cfg := testConfig()
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	zero := warpfield.New(cfg.MotionResolution.Y, cfg.MotionResolution.X)
	defer zero.Close()

	for i := 0; i < cfg.PathPredictionFrames+2; i++ {
		_, _, err := s.Next(zero)
		require.NoError(t, err)
	}

	s.Restart()

	_, ready, err := s.Next(zero)
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestGaussianKernelNormalizes(t *testing.T) {
	kernel := gaussianKernel(7, 3)
	sum := 0.0
	for _, v := range kernel {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

// The corrective limit is scene_margins * frame_size per axis (spec.md's
// glossary), not the bare scene_margins fraction: motion reaching the
// smoother is already in frame pixels (pkg/tracker scales it up from its
// tracking resolution), so a limit of 0.1 would clamp any real motion to
// a fraction of a pixel.
func TestClampUsesFrameSizeNotBareMarginFraction(t *testing.T) {
	cfg := testConfig()
	cfg.FrameSize = image.Pt(640, 480)
	cfg.ClampToMargins = true
	s, err := New(cfg)
	require.NoError(t, err)
	defer s.Close()

	motion := constantMotion(cfg.MotionResolution.Y, cfg.MotionResolution.X, warpfield.Vec2{X: 2, Y: 0})
	defer motion.Close()

	var lastMean warpfield.Vec2
	for i := 0; i < 40; i++ {
		corr, ready, err := s.Next(motion)
		require.NoError(t, err)
		if !ready {
			continue
		}
		lastMean = corr.Mean()
		corr.Close()
	}

	limit := cfg.SceneMargins * float64(cfg.FrameSize.X)
	assert.LessOrEqual(t, math.Abs(float64(lastMean.X)), limit+1e-3)
	assert.Greater(t, math.Abs(float64(lastMean.X)), 1.0,
		"correction should track real pixel-scale motion, not saturate at a sub-pixel bare-fraction limit")
}
