package feature

import (
	"image"
	"testing"

	"gocv.io/x/gocv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/livestab/pkg/spatialgrid"
)

func testConfig() Config {
	return Config{
		DetectionResolution: image.Pt(160, 120),
		DetectionRegions:    Shape{Rows: 2, Cols: 2},
		FeatureGridShape:    Shape{Rows: 20, Cols: 20},
		MinFeatureDensity:   0.1,
		MaxFeatureDensity:   0.5,
	}
}

func TestNewRejectsInvertedDensity(t *testing.T) {
	cfg := testConfig()
	cfg.MinFeatureDensity = 0.9
	cfg.MaxFeatureDensity = 0.1
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsOversizedRegions(t *testing.T) {
	cfg := testConfig()
	cfg.DetectionRegions = Shape{Rows: 1000, Cols: 1000}
	_, err := New(cfg)
	assert.Error(t, err)
}

func checkerboardFrame(w, h int) gocv.Mat {
	m := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/8+y/8)%2 == 0 {
				m.SetUCharAt(y, x, 255)
			}
		}
	}
	return m
}

func TestDetectRejectsWrongSize(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	frame := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	defer frame.Close()

	_, _, err = d.Detect(frame)
	assert.Error(t, err)
}

func TestDetectRejectsMultiChannel(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	_, _, err = d.Detect(frame)
	assert.Error(t, err)
}

func TestDetectReturnsQualityInUnitRange(t *testing.T) {
	cfg := testConfig()
	d, err := New(cfg)
	require.NoError(t, err)

	frame := checkerboardFrame(cfg.DetectionResolution.X, cfg.DetectionResolution.Y)
	defer frame.Close()

	_, quality, err := d.Detect(frame)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, quality, 0.0)
	assert.LessOrEqual(t, quality, 1.0)
}

func TestPropagateIgnoresOutOfBoundsFeature(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	// Should not panic, regardless of whether the point falls in the grid.
	d.Propagate([]KeyPoint{{X: -10, Y: -10, Response: 1}})
	d.Propagate([]KeyPoint{{X: 10, Y: 10, Response: 1}})
}

func TestResetClearsSuppressionAndLoad(t *testing.T) {
	cfg := testConfig()
	d, err := New(cfg)
	require.NoError(t, err)

	d.Propagate([]KeyPoint{{X: 10, Y: 10, Response: 5}})
	d.Reset()
	assert.Equal(t, 0, d.suppression.Count())
	d.regions.Each(func(_ spatialgrid.Key, z *zone) {
		assert.Equal(t, 0, z.load)
	})
}

func TestStepTowardClampsAtTarget(t *testing.T) {
	assert.Equal(t, 250, stepToward(248, 250, 5))
	assert.Equal(t, 10, stepToward(12, 10, 5))
	assert.Equal(t, 100, stepToward(100, 100, 5))
}
