package config

import (
	"fmt"
	"image"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/your-org/livestab/pkg/feature"
	"github.com/your-org/livestab/pkg/lvkerr"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Storage    StorageConfig    `yaml:"storage"`
	Stabilizer StabilizerConfig `yaml:"stabilizer"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// IngestConfig tunes the ffmpeg raw-frame extractor, independent of the
// stabilizer's own internal resolutions.
type IngestConfig struct {
	DefaultFPS int `yaml:"default_fps"`
	MaxFPS     int `yaml:"max_fps"`
	FrameWidth int `yaml:"frame_width"`
	WorkerCount int `yaml:"worker_count"`
}

// StorageConfig tunes retention of raw and stabilized frame blobs in MinIO.
type StorageConfig struct {
	FrameRetention int `yaml:"frame_retention"`
}

// StabilizerConfig is the configuration surface of spec.md §6, mapped
// directly onto stabilizer.Config.
type StabilizerConfig struct {
	MotionResolutionW   int `yaml:"motion_resolution_w"`
	MotionResolutionH   int `yaml:"motion_resolution_h"`
	TrackingResolutionW int `yaml:"tracking_resolution_w"`
	TrackingResolutionH int `yaml:"tracking_resolution_h"`

	PathPredictionFrames int     `yaml:"path_prediction_frames"`
	SceneMargins         float64 `yaml:"scene_margins"`
	SigmaMin             float64 `yaml:"sigma_min"`
	SigmaMax             float64 `yaml:"sigma_max"`

	MinTrackingQuality float64 `yaml:"min_tracking_quality"`
	MinSceneQuality    float64 `yaml:"min_scene_quality"`

	StabilizeOutput   bool    `yaml:"stabilize_output"`
	CropToMargins     bool    `yaml:"crop_frame_to_margins"`
	ClampToMargins    bool    `yaml:"clamp_path_to_margins"`
	ForceRigidity     bool    `yaml:"force_output_rigidity"`
	RigidityTolerance float64 `yaml:"rigidity_tolerance"`

	MinimumTrackingPoints int     `yaml:"minimum_tracking_points"`
	MinFeatureDensity     float64 `yaml:"min_feature_density"`
	MaxFeatureDensity     float64 `yaml:"max_feature_density"`
	DetectionRegionsRows  int     `yaml:"detection_regions_rows"`
	DetectionRegionsCols  int     `yaml:"detection_regions_cols"`
	FeatureGridRows       int     `yaml:"feature_grid_rows"`
	FeatureGridCols       int     `yaml:"feature_grid_cols"`
}

// MotionResolution returns the configured motion grid shape as an image.Point.
func (c StabilizerConfig) MotionResolution() image.Point {
	return image.Pt(c.MotionResolutionW, c.MotionResolutionH)
}

// TrackingResolution returns the configured tracking-view shape.
func (c StabilizerConfig) TrackingResolution() image.Point {
	return image.Pt(c.TrackingResolutionW, c.TrackingResolutionH)
}

func (c StabilizerConfig) DetectionRegions() feature.Shape {
	return feature.Shape{Rows: c.DetectionRegionsRows, Cols: c.DetectionRegionsCols}
}

func (c StabilizerConfig) FeatureGridShape() feature.Shape {
	return feature.Shape{Rows: c.FeatureGridRows, Cols: c.FeatureGridCols}
}

// Validate implements the §7 InvalidConfiguration checks that the config
// layer is responsible for, ahead of stabilizer.New/Configure raising any
// remaining ones deeper in the stack.
func (c StabilizerConfig) Validate() error {
	if c.MotionResolutionW < 2 || c.MotionResolutionH < 2 {
		return lvkerr.NewConfigError("motion_resolution", fmt.Sprintf("%dx%d", c.MotionResolutionW, c.MotionResolutionH), fmt.Errorf("must be at least 2x2"))
	}
	if c.PathPredictionFrames <= 0 {
		return lvkerr.NewConfigError("path_prediction_frames", c.PathPredictionFrames, fmt.Errorf("must be >= 1"))
	}
	if c.MinFeatureDensity < 0 || c.MinFeatureDensity > 1 {
		return lvkerr.NewConfigError("min_feature_density", c.MinFeatureDensity, fmt.Errorf("must be in [0,1]"))
	}
	if c.MaxFeatureDensity < 0 || c.MaxFeatureDensity > 1 {
		return lvkerr.NewConfigError("max_feature_density", c.MaxFeatureDensity, fmt.Errorf("must be in [0,1]"))
	}
	return nil
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Stabilizer.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Ingest.DefaultFPS == 0 {
		cfg.Ingest.DefaultFPS = 5
	}
	if cfg.Ingest.MaxFPS == 0 {
		cfg.Ingest.MaxFPS = 30
	}
	if cfg.Ingest.FrameWidth == 0 {
		cfg.Ingest.FrameWidth = 640
	}
	if cfg.Ingest.WorkerCount == 0 {
		cfg.Ingest.WorkerCount = 6
	}

	if cfg.Stabilizer.MotionResolutionW == 0 {
		cfg.Stabilizer.MotionResolutionW = 2
	}
	if cfg.Stabilizer.MotionResolutionH == 0 {
		cfg.Stabilizer.MotionResolutionH = 2
	}
	if cfg.Stabilizer.TrackingResolutionW == 0 {
		cfg.Stabilizer.TrackingResolutionW = 160
	}
	if cfg.Stabilizer.TrackingResolutionH == 0 {
		cfg.Stabilizer.TrackingResolutionH = 120
	}
	if cfg.Stabilizer.PathPredictionFrames == 0 {
		cfg.Stabilizer.PathPredictionFrames = 10
	}
	if cfg.Stabilizer.SceneMargins == 0 {
		cfg.Stabilizer.SceneMargins = 0.1
	}
	if cfg.Stabilizer.SigmaMin == 0 {
		cfg.Stabilizer.SigmaMin = 3
	}
	if cfg.Stabilizer.SigmaMax == 0 {
		cfg.Stabilizer.SigmaMax = 13
	}
	if cfg.Stabilizer.MinTrackingQuality == 0 {
		cfg.Stabilizer.MinTrackingQuality = 0.3
	}
	if cfg.Stabilizer.MinSceneQuality == 0 {
		cfg.Stabilizer.MinSceneQuality = 0.8
	}
	if cfg.Stabilizer.MinimumTrackingPoints == 0 {
		cfg.Stabilizer.MinimumTrackingPoints = 20
	}
	if cfg.Stabilizer.MinFeatureDensity == 0 {
		cfg.Stabilizer.MinFeatureDensity = 0.1
	}
	if cfg.Stabilizer.MaxFeatureDensity == 0 {
		cfg.Stabilizer.MaxFeatureDensity = 0.5
	}
	if cfg.Stabilizer.DetectionRegionsRows == 0 {
		cfg.Stabilizer.DetectionRegionsRows = 2
	}
	if cfg.Stabilizer.DetectionRegionsCols == 0 {
		cfg.Stabilizer.DetectionRegionsCols = 2
	}
	if cfg.Stabilizer.FeatureGridRows == 0 {
		cfg.Stabilizer.FeatureGridRows = 20
	}
	if cfg.Stabilizer.FeatureGridCols == 0 {
		cfg.Stabilizer.FeatureGridCols = 20
	}
	if cfg.Stabilizer.RigidityTolerance == 0 {
		cfg.Stabilizer.RigidityTolerance = 0.1
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LVK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LVK_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("LVK_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("LVK_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("LVK_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("LVK_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("LVK_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("LVK_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("LVK_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("LVK_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("LVK_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("LVK_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("LVK_INGEST_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.WorkerCount = n
		}
	}
	if v := os.Getenv("LVK_PATH_PREDICTION_FRAMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stabilizer.PathPredictionFrames = n
		}
	}
}
