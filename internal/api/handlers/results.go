package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/livestab/internal/storage"
	"github.com/your-org/livestab/pkg/dto"
)

// ResultHandler serves stabilization result and run history for a stream.
type ResultHandler struct {
	db *storage.PostgresStore
}

func NewResultHandler(db *storage.PostgresStore) *ResultHandler {
	return &ResultHandler{db: db}
}

// List returns paginated stabilization results for a stream, most recent first.
func (h *ResultHandler) List(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	var from, to *time.Time
	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			from = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			to = &t
		}
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	results, total, err := h.db.QueryResults(c.Request.Context(), streamID, from, to, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.StabilizationResultResponse, 0, len(results))
	for _, r := range results {
		resp = append(resp, dto.StabilizationResultResponse{
			StreamID:      r.StreamID,
			FrameID:       r.FrameID,
			Sequence:      r.Sequence,
			Timestamp:     r.Timestamp.Format(time.RFC3339),
			StabilizedURL: "/v1/streams/" + r.StreamID.String() + "/frames/" + r.FrameID.String(),
			TrustFactor:   r.TrustFactor,
			SceneQuality:  r.SceneQuality,
			Ready:         r.Ready,
			CreatedAt:     r.CreatedAt.Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, dto.ResultListResponse{Results: resp, Total: total})
}

// Runs returns the run history (start/stop lifecycle segments) for a stream.
func (h *ResultHandler) Runs(c *gin.Context) {
	streamID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stream id"})
		return
	}

	runs, err := h.db.ListRuns(c.Request.Context(), streamID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.RunResponse, 0, len(runs))
	for _, r := range runs {
		rr := dto.RunResponse{
			ID:              r.ID,
			StreamID:        r.StreamID,
			StartedAt:       r.StartedAt.Format(time.RFC3339),
			FramesProcessed: r.FramesProcessed,
			AvgTrustFactor:  r.AvgTrustFactor,
			AvgSceneQuality: r.AvgSceneQuality,
			ErrorMessage:    r.ErrorMessage,
		}
		if r.EndedAt != nil {
			rr.EndedAt = r.EndedAt.Format(time.RFC3339)
		}
		resp = append(resp, rr)
	}

	c.JSON(http.StatusOK, dto.RunListResponse{Runs: resp, Total: len(resp)})
}

// Frame proxies a stabilized frame image from MinIO.
func (h *ResultHandler) Frame(minio *storage.MinIOStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		streamID := c.Param("id")
		frameID := c.Param("frameId")
		key := "stabilized/" + streamID + "/" + frameID + ".jpg"

		data, err := minio.GetObject(c.Request.Context(), key)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
			return
		}

		c.Data(http.StatusOK, "image/jpeg", data)
	}
}
