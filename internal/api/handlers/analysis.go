package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/auth"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/queue"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/storage"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/pkg/dto"
)

type AnalysisHandler struct {
	db       *storage.PostgresStore
	producer *queue.Producer
}

func NewAnalysisHandler(db *storage.PostgresStore, producer *queue.Producer) *AnalysisHandler {
	return &AnalysisHandler{db: db, producer: producer}
}

// Trigger enqueues a full analysis run. The request returns as soon as the
// job is queued; the analyzer picks it up asynchronously. A video with a
// run already in flight gets 409 rather than a second run.
func (h *AnalysisHandler) Trigger(c *gin.Context) {
	video, ok := h.loadVideo(c)
	if !ok {
		return
	}

	active, err := h.db.HasActiveRun(c.Request.Context(), video.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if active {
		c.JSON(http.StatusConflict, gin.H{"error": "analysis already in progress"})
		return
	}

	enabled, err := h.db.AnalysisEnabled(c.Request.Context(), video.SchoolID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !enabled {
		c.JSON(http.StatusOK, dto.TriggerAnalysisResponse{
			VideoID: video.ID,
			Status:  string(models.AnalysisSkippedDisabled),
		})
		return
	}

	if err := h.db.SetAnalysisProgress(c.Request.Context(), video.ID,
		models.AnalysisQueued, 0, 0, 0); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	job := models.AnalysisJob{
		VideoID:     video.ID,
		Kind:        models.JobFullAnalysis,
		RequestedAt: time.Now(),
	}
	if err := h.producer.PublishAnalysisJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerAnalysisResponse{
		VideoID: video.ID,
		Status:  string(models.AnalysisQueued),
	})
}

// Status reports the current analysis progress of a video.
func (h *AnalysisHandler) Status(c *gin.Context) {
	video, ok := h.loadVideo(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toAnalysis(video))
}

// TriggerSweep enqueues an on-demand incremental face search.
func (h *AnalysisHandler) TriggerSweep(c *gin.Context) {
	video, ok := h.loadVideo(c)
	if !ok {
		return
	}

	active, err := h.db.HasActiveRun(c.Request.Context(), video.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if active {
		c.JSON(http.StatusConflict, gin.H{"error": "analysis already in progress"})
		return
	}

	var requestedBy string
	if gid, ok := auth.GuardianID(c); ok {
		requestedBy = gid.String()
	}
	job := models.AnalysisJob{
		VideoID:     video.ID,
		Kind:        models.JobFaceSweep,
		RequestedBy: requestedBy,
		RequestedAt: time.Now(),
	}
	if err := h.producer.PublishAnalysisJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.TriggerAnalysisResponse{
		VideoID: video.ID,
		Status:  string(models.AnalysisQueued),
	})
}

// GetEnabled returns the per-school analysis flag.
func (h *AnalysisHandler) GetEnabled(c *gin.Context) {
	schoolID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid school id"})
		return
	}

	enabled, err := h.db.AnalysisEnabled(c.Request.Context(), schoolID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"school_id": schoolID, "enabled": enabled})
}

// SetEnabled flips the per-school analysis flag. Turning it off affects
// future triggers only; runs in flight finish normally.
func (h *AnalysisHandler) SetEnabled(c *gin.Context) {
	schoolID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid school id"})
		return
	}

	var req dto.SetAnalysisEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.SetAnalysisEnabled(c.Request.Context(), schoolID, *req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"school_id": schoolID, "enabled": *req.Enabled})
}

func (h *AnalysisHandler) loadVideo(c *gin.Context) (*models.Video, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return nil, false
	}

	video, err := h.db.GetVideo(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return nil, false
	}
	return video, true
}
