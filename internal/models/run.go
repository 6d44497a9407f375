package models

import (
	"time"

	"github.com/google/uuid"
)

// RawFrameTask is the message published to NATS by the ingestor for worker
// processing. FrameRef points at the raw frame blob in MinIO.
type RawFrameTask struct {
	StreamID  uuid.UUID `json:"stream_id"`
	FrameID   uuid.UUID `json:"frame_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"` // MinIO object key of the raw JPEG
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// StabilizationResult is the output the worker publishes for every
// successfully stabilized frame. It carries the same telemetry fields the
// pipeline itself exposes; the worker persists it, and the API relays it to
// the WebSocket hub as live quality telemetry without recomputing anything.
type StabilizationResult struct {
	StreamID      uuid.UUID `json:"stream_id"`
	FrameID       uuid.UUID `json:"frame_id"`
	Sequence      int64     `json:"sequence"`
	Timestamp     time.Time `json:"timestamp"`
	StabilizedRef string    `json:"stabilized_ref"` // MinIO object key of the output frame

	TrustFactor  float64 `json:"trust_factor"`
	SceneQuality float64 `json:"scene_quality"`
	Ready        bool    `json:"ready"` // false while the pipeline is still warming up its output delay
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Run is one lifetime segment of a stream's stabilization: from start
// command to stop/error, with aggregate telemetry for the history view.
type Run struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	StreamID         uuid.UUID  `json:"stream_id" db:"stream_id"`
	StartedAt        time.Time  `json:"started_at" db:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	FramesProcessed  int64      `json:"frames_processed" db:"frames_processed"`
	AvgTrustFactor   float64    `json:"avg_trust_factor" db:"avg_trust_factor"`
	AvgSceneQuality  float64    `json:"avg_scene_quality" db:"avg_scene_quality"`
	ErrorMessage     string     `json:"error_message,omitempty" db:"error_message"`
}
