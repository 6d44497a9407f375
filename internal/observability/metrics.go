package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lvk",
		Name:      "frames_processed_total",
		Help:      "Total number of raw frames handled (ingested by the ingestor, stabilized by the worker)",
	}, []string{"stream_id"})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lvk",
		Name:      "frames_dropped_total",
		Help:      "Total number of raw frames dropped before stabilization (output not yet ready)",
	}, []string{"stream_id"})

	TrustFactor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lvk",
		Name:      "trust_factor",
		Help:      "Current quality-assurance trust factor of the stabilization pipeline",
	}, []string{"stream_id"})

	SceneQuality = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lvk",
		Name:      "scene_quality",
		Help:      "Current EMA-smoothed tracking quality of the stabilization pipeline",
	}, []string{"stream_id"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lvk",
		Name:      "inference_duration_seconds",
		Help:      "Duration of worker processing stages per frame",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lvk",
		Name:      "queue_depth",
		Help:      "Number of pending raw frame tasks in queue",
	})

	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lvk",
		Name:      "active_streams",
		Help:      "Number of currently active video streams",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lvk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "lvk",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
