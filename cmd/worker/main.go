package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gocv.io/x/gocv"

	"github.com/your-org/livestab/internal/config"
	"github.com/your-org/livestab/internal/models"
	"github.com/your-org/livestab/internal/observability"
	"github.com/your-org/livestab/internal/queue"
	"github.com/your-org/livestab/internal/storage"
	"github.com/your-org/livestab/pkg/stabilizer"
)

// worker owns one *stabilizer.Pipeline per stream, keyed by stream ID, since
// the pipeline carries per-stream motion history and cannot be shared.
type worker struct {
	cfg      config.StabilizerConfig
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer

	mu        sync.RWMutex
	pipelines map[uuid.UUID]*stabilizer.Pipeline
}

func newWorker(cfg config.StabilizerConfig, db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *worker {
	return &worker{
		cfg:       cfg,
		db:        db,
		minio:     minio,
		producer:  producer,
		pipelines: make(map[uuid.UUID]*stabilizer.Pipeline),
	}
}

// pipelineFor returns the pipeline for streamID, lazily constructing it from
// frameSize (the pixel resolution of the stream's decoded frames) on first
// use. frameSize is fixed for the pipeline's lifetime: every stream is
// assumed to produce constant-resolution frames.
func (w *worker) pipelineFor(streamID uuid.UUID, frameSize image.Point) (*stabilizer.Pipeline, error) {
	w.mu.RLock()
	p, ok := w.pipelines[streamID]
	w.mu.RUnlock()
	if ok {
		return p, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pipelines[streamID]; ok {
		return p, nil
	}

	p, err := stabilizer.New(stabilizerConfig(w.cfg, frameSize))
	if err != nil {
		return nil, fmt.Errorf("new pipeline for stream %s: %w", streamID, err)
	}
	w.pipelines[streamID] = p
	return p, nil
}

func stabilizerConfig(c config.StabilizerConfig, frameSize image.Point) stabilizer.Config {
	return stabilizer.Config{
		MotionResolution:      c.MotionResolution(),
		TrackingResolution:    c.TrackingResolution(),
		FrameSize:             frameSize,
		PathPredictionFrames:  c.PathPredictionFrames,
		SceneMargins:          c.SceneMargins,
		SigmaMin:              c.SigmaMin,
		SigmaMax:              c.SigmaMax,
		MinTrackingQuality:    c.MinTrackingQuality,
		MinSceneQuality:       c.MinSceneQuality,
		StabilizeOutput:       c.StabilizeOutput,
		CropToMargins:         c.CropToMargins,
		ClampToMargins:        c.ClampToMargins,
		ForceRigidity:         c.ForceRigidity,
		RigidityTolerance:     c.RigidityTolerance,
		MinimumTrackingPoints: c.MinimumTrackingPoints,
		MinFeatureDensity:     c.MinFeatureDensity,
		MaxFeatureDensity:     c.MaxFeatureDensity,
		DetectionRegions:      c.DetectionRegions(),
		FeatureGridShape:      c.FeatureGridShape(),
	}
}

// processTask decodes the raw frame, pushes it through the stream's
// stabilization pipeline, and — once the pipeline has warmed past its
// output delay — uploads the stabilized frame and publishes the result.
func (w *worker) processTask(ctx context.Context, task models.RawFrameTask) error {
	raw, err := w.minio.GetObject(ctx, task.FrameRef)
	if err != nil {
		return fmt.Errorf("fetch raw frame %s: %w", task.FrameRef, err)
	}

	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decode frame %s: %w", task.FrameID, err)
	}
	defer mat.Close()

	pipeline, err := w.pipelineFor(task.StreamID, image.Pt(mat.Cols(), mat.Rows()))
	if err != nil {
		return err
	}

	start := time.Now()
	out, ok, err := pipeline.Process(mat)
	observability.InferenceDuration.WithLabelValues("pipeline").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("stabilize frame %s: %w", task.FrameID, err)
	}
	defer out.Close()

	observability.TrustFactor.WithLabelValues(task.StreamID.String()).Set(pipeline.TrustFactor())
	observability.SceneQuality.WithLabelValues(task.StreamID.String()).Set(pipeline.SceneQuality())

	if !ok {
		// Still warming up the output delay buffer; nothing to emit yet.
		observability.FramesDropped.WithLabelValues(task.StreamID.String()).Inc()
		return nil
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, out)
	if err != nil {
		return fmt.Errorf("encode stabilized frame %s: %w", task.FrameID, err)
	}
	defer buf.Close()

	key := fmt.Sprintf("stabilized/%s/%s.jpg", task.StreamID, task.FrameID)
	if err := w.minio.PutObject(ctx, key, buf.GetBytes(), "image/jpeg"); err != nil {
		return fmt.Errorf("upload stabilized frame %s: %w", task.FrameID, err)
	}

	result := models.StabilizationResult{
		StreamID:      task.StreamID,
		FrameID:       task.FrameID,
		Sequence:      task.Sequence,
		Timestamp:     task.Timestamp,
		StabilizedRef: key,
		TrustFactor:   pipeline.TrustFactor(),
		SceneQuality:  pipeline.SceneQuality(),
		Ready:         true,
	}

	if err := w.db.CreateResult(ctx, &result); err != nil {
		slog.Error("persist stabilization result", "frame_id", task.FrameID, "error", err)
	}

	if err := w.producer.PublishResult(ctx, task.StreamID.String(), result); err != nil {
		return fmt.Errorf("publish result %s: %w", task.FrameID, err)
	}

	observability.FramesProcessed.WithLabelValues(task.StreamID.String()).Inc()
	return nil
}

func (w *worker) closeStream(streamID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pipelines[streamID]; ok {
		_ = p.Close()
		delete(w.pipelines, streamID)
	}
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting livestab stabilization worker",
		"workers", cfg.Ingest.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	w := newWorker(cfg.Stabilizer, db, minioStore, producer)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeRawFrames(ctx, "stabilization-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.RawFrameTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal raw frame task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		if err := w.processTask(ctx, task); err != nil {
			return fmt.Errorf("process frame %s: %w", task.FrameID, err)
		}

		return nil
	}, cfg.Ingest.WorkerCount)
	if err != nil {
		slog.Error("start raw frame consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	w.mu.Lock()
	for id, p := range w.pipelines {
		_ = p.Close()
		delete(w.pipelines, id)
	}
	w.mu.Unlock()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
