package tracker

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
		MinimumTrackingPoints: 40,
		Detector: feature.Config{
			DetectionResolution: image.Pt(160, 120),
			DetectionRegions:    feature.Shape{Rows: 2, Cols: 2},
			FeatureGridShape:    feature.Shape{Rows: 20, Cols: 20},
			MinFeatureDensity:   0.1,
			MaxFeatureDensity:   0.5,
		},
	}
}

func TestNewRejectsTooFewMinimumPoints(t *testing.T) {
	cfg := testConfig()
	cfg.MinimumTrackingPoints = 1
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsSubHomographyMotionResolution(t *testing.T) {
	cfg := testConfig()
	cfg.MotionResolution = image.Pt(1, 1)
	_, err := New(cfg)
	assert.Error(t, err)
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

func TestTrackFirstFrameReturnsNoMotion(t *testing.T) {
	tr, err := New(testConfig())
	require.NoError(t, err)
	defer tr.Close()

	frame := checkerboard(320, 240)
	defer frame.Close()

	motion, ok, err := tr.Track(frame)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, motion)
}

func TestTrackRejectsEmptyFrame(t *testing.T) {
	tr, err := New(testConfig())
	require.NoError(t, err)
	defer tr.Close()

	empty := gocv.NewMat()
	defer empty.Close()

	_, _, err = tr.Track(empty)
	assert.Error(t, err)
}

func TestTrackRejectsMultiChannelFrame(t *testing.T) {
	tr, err := New(testConfig())
	require.NoError(t, err)
	defer tr.Close()

	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer frame.Close()

	_, _, err = tr.Track(frame)
	assert.Error(t, err)
}

func TestRestartForcesColdState(t *testing.T) {
	tr, err := New(testConfig())
	require.NoError(t, err)
	defer tr.Close()

	frame := checkerboard(320, 240)
	defer frame.Close()

	_, _, err = tr.Track(frame)
	require.NoError(t, err)

	tr.Restart()

	// After restart, the very next call must behave like a first frame again.
	motion, ok, err := tr.Track(frame)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, motion)
}

func TestEmaMovesTowardSample(t *testing.T) {
	v := ema(0.0, 1.0, 0.05)
	assert.InDelta(t, 0.05, v, 1e-9)
}
