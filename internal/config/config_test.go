package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  host: localhost
  name: livestab
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Database.MaxConns)
	assert.Equal(t, 5, cfg.Ingest.DefaultFPS)
	assert.Equal(t, 640, cfg.Ingest.FrameWidth)
	assert.Equal(t, 160, cfg.Stabilizer.TrackingResolutionW)
	assert.Equal(t, 0.1, cfg.Stabilizer.SceneMargins)
	assert.Equal(t, 0.3, cfg.Stabilizer.MinTrackingQuality)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
`)

	t.Setenv("LVK_SERVER_PORT", "7000")
	t.Setenv("LVK_PATH_PREDICTION_FRAMES", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 25, cfg.Stabilizer.PathPredictionFrames)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStabilizerConfigValidate(t *testing.T) {
	valid := StabilizerConfig{
		MotionResolutionW:    2,
		MotionResolutionH:    2,
		PathPredictionFrames: 10,
		MinFeatureDensity:    0.1,
		MaxFeatureDensity:    0.5,
	}
	assert.NoError(t, valid.Validate())

	cases := []StabilizerConfig{
		{MotionResolutionW: 1, MotionResolutionH: 2, PathPredictionFrames: 1},
		{MotionResolutionW: 2, MotionResolutionH: 2, PathPredictionFrames: 0},
		{MotionResolutionW: 2, MotionResolutionH: 2, PathPredictionFrames: 1, MinFeatureDensity: -1},
		{MotionResolutionW: 2, MotionResolutionH: 2, PathPredictionFrames: 1, MaxFeatureDensity: 1.5},
	}
	for _, c := range cases {
		assert.Error(t, c.Validate())
	}
}

func TestStabilizerConfigShapeHelpers(t *testing.T) {
	c := StabilizerConfig{
		MotionResolutionW:   4,
		MotionResolutionH:   3,
		TrackingResolutionW: 160,
		TrackingResolutionH: 120,
		DetectionRegionsRows: 2,
		DetectionRegionsCols: 3,
		FeatureGridRows:      10,
		FeatureGridCols:      20,
	}

	assert.Equal(t, 4, c.MotionResolution().X)
	assert.Equal(t, 3, c.MotionResolution().Y)
	assert.Equal(t, 160, c.TrackingResolution().X)
	assert.Equal(t, 2, c.DetectionRegions().Rows)
	assert.Equal(t, 20, c.FeatureGridShape().Cols)
}

func TestDatabaseConfigDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "livestab", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/livestab?sslmode=disable", d.DSN())
}
