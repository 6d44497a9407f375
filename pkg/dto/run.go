package dto

import "github.com/google/uuid"

// StabilizationResultResponse mirrors models.StabilizationResult for clients
// polling run history.
type StabilizationResultResponse struct {
	StreamID      uuid.UUID `json:"stream_id"`
	FrameID       uuid.UUID `json:"frame_id"`
	Sequence      int64     `json:"sequence"`
	Timestamp     string    `json:"timestamp"`
	StabilizedURL string    `json:"stabilized_url,omitempty"`
	TrustFactor   float64   `json:"trust_factor"`
	SceneQuality  float64   `json:"scene_quality"`
	Ready         bool      `json:"ready"`
	CreatedAt     string    `json:"created_at"`
}

type ResultListResponse struct {
	Results []StabilizationResultResponse `json:"results"`
	Total   int                           `json:"total"`
}

type ResultQuery struct {
	From   string `form:"from"`
	To     string `form:"to"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type RunResponse struct {
	ID              uuid.UUID `json:"id"`
	StreamID        uuid.UUID `json:"stream_id"`
	StartedAt       string    `json:"started_at"`
	EndedAt         string    `json:"ended_at,omitempty"`
	FramesProcessed int64     `json:"frames_processed"`
	AvgTrustFactor  float64   `json:"avg_trust_factor"`
	AvgSceneQuality float64   `json:"avg_scene_quality"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Total int           `json:"total"`
}

// WSMessage is a WebSocket message for real-time telemetry delivery.
type WSMessage struct {
	Type     string                       `json:"type"` // frame_stabilized, stream_status
	StreamID uuid.UUID                    `json:"stream_id"`
	Data     StabilizationResultResponse  `json:"data,omitempty"`
	Status   string                       `json:"status,omitempty"`
}
