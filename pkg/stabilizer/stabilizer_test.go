package stabilizer

import (
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/livestab/pkg/feature"
)

func testConfig() Config {
	return Config{
		MotionResolution:      image.Pt(2, 2),
		TrackingResolution:    image.Pt(160, 120),
		FrameSize:             image.Pt(320, 240),
		PathPredictionFrames:  3,
		SceneMargins:          0.1,
		SigmaMin:              3,
		SigmaMax:              13,
		MinTrackingQuality:    0.3,
		MinSceneQuality:       0.8,
		StabilizeOutput:       true,
		MinimumTrackingPoints: 20,
		MinFeatureDensity:     0.1,
		MaxFeatureDensity:     0.5,
		DetectionRegions:      feature.Shape{Rows: 2, Cols: 2},
		FeatureGridShape:      feature.Shape{Rows: 20, Cols: 20},
	}
}

func checkerboard(w, h int) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/6+y/6)%2 == 0 {
				m.SetUCharAt(y, x, 255)
			}
		}
	}
	return m
}

func TestNewRejectsOutOfRangeTrackingQuality(t *testing.T) {
	cfg := testConfig()
	cfg.MinTrackingQuality = 5
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestProcessRejectsEmptyFrame(t *testing.T) {
	p, err := New(testConfig())
	require.NoError(t, err)
	defer p.Close()

	empty := gocv.NewMat()
	defer empty.Close()

	_, _, err = p.Process(empty)
	assert.Error(t, err)
}

func TestProcessWarmUpThenReady(t *testing.T) {
	p, err := New(testConfig())
	require.NoError(t, err)
	defer p.Close()

	frame := checkerboard(320, 240)
	defer frame.Close()

	delay := p.FrameDelay()
	for i := 0; i < delay; i++ {
		_, ok, err := p.Process(frame)
		require.NoError(t, err)
		assert.False(t, ok, "call %d should not be ready", i+1)
	}

	out, ok, err := p.Process(frame)
	require.NoError(t, err)
	require.True(t, ok)
	defer out.Close()
	assert.False(t, out.Empty())
}

func TestProcessDisabledPassesThroughAfterDelay(t *testing.T) {
	cfg := testConfig()
	cfg.StabilizeOutput = false
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Close()

	frame := checkerboard(320, 240)
	defer frame.Close()

	delay := p.FrameDelay()
	for i := 0; i < delay; i++ {
		_, ok, err := p.Process(frame)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	out, ok, err := p.Process(frame)
	require.NoError(t, err)
	require.True(t, ok)
	defer out.Close()
}

func TestRestartResetsQualityMetrics(t *testing.T) {
	p, err := New(testConfig())
	require.NoError(t, err)
	defer p.Close()

	p.trustFactor = 0.9
	p.sceneQuality = 0.2

	p.Restart()

	assert.Equal(t, 1.0, p.SceneQuality())
	assert.Equal(t, 0.0, p.TrustFactor())
}

func TestStepMovesTowardTargetByAtMostDelta(t *testing.T) {
	assert.InDelta(t, 0.05, step(0, 1, 0.05), 1e-9)
	assert.InDelta(t, 1.0, step(0.98, 1, 0.05), 1e-9)
	assert.InDelta(t, 0.0, step(0.02, 0, 0.05), 1e-9)
}

func TestMarginRegionShrinksTowardsCentre(t *testing.T) {
	r := marginRegion(10, 10, 0.1)
	assert.Equal(t, 1, r.Min.X)
	assert.Equal(t, 1, r.Min.Y)
	assert.Equal(t, 9, r.Max.X)
	assert.Equal(t, 9, r.Max.Y)
}

func TestProcessCropToMarginsProducesFrameSizedOutput(t *testing.T) {
	cfg := testConfig()
	cfg.CropToMargins = true
	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Close()

	frame := checkerboard(320, 240)
	defer frame.Close()

	delay := p.FrameDelay()
	for i := 0; i < delay; i++ {
		_, _, err := p.Process(frame)
		require.NoError(t, err)
	}

	out, ok, err := p.Process(frame)
	require.NoError(t, err)
	require.True(t, ok)
	defer out.Close()
	assert.Equal(t, 320, out.Cols())
	assert.Equal(t, 240, out.Rows())
}
