package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/analysis"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/storage"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/pkg/dto"
)

type VideoHandler struct {
	db *storage.PostgresStore
}

func NewVideoHandler(db *storage.PostgresStore) *VideoHandler {
	return &VideoHandler{db: db}
}

func (h *VideoHandler) Create(c *gin.Context) {
	var req dto.CreateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	video := &models.Video{
		SchoolID:   req.SchoolID,
		ClassID:    req.ClassID,
		Title:      req.Title,
		ExternalID: req.ExternalID,
		SourceURL:  req.SourceURL,
	}
	if err := h.db.CreateVideo(c.Request.Context(), video); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toVideoResponse(video))
}

func (h *VideoHandler) List(c *gin.Context) {
	var classID *uuid.UUID
	if classStr := c.Query("class_id"); classStr != "" {
		id, err := uuid.Parse(classStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid class_id"})
			return
		}
		classID = &id
	}

	videos, err := h.db.ListVideos(c.Request.Context(), classID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.VideoResponse, 0, len(videos))
	for i := range videos {
		resp = append(resp, toVideoResponse(&videos[i]))
	}

	c.JSON(http.StatusOK, gin.H{"videos": resp, "total": len(resp)})
}

func (h *VideoHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	video, err := h.db.GetVideo(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if video == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video not found"})
		return
	}

	c.JSON(http.StatusOK, toVideoResponse(video))
}

func toVideoResponse(v *models.Video) dto.VideoResponse {
	return dto.VideoResponse{
		ID:         v.ID,
		SchoolID:   v.SchoolID,
		ClassID:    v.ClassID,
		Title:      v.Title,
		ExternalID: v.ExternalID,
		SourceURL:  v.SourceURL,
		Analysis:   toAnalysis(v),
		CreatedAt:  v.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
}

func toAnalysis(v *models.Video) dto.Analysis {
	p := analysis.Progress{
		State:       v.AnalysisState,
		Percent:     v.AnalysisPercent,
		Children:    v.AnalysisChildren,
		Appearances: v.AnalysisAppearances,
	}
	return dto.Analysis{
		State:       string(v.AnalysisState),
		Percent:     v.AnalysisPercent,
		Children:    v.AnalysisChildren,
		Appearances: v.AnalysisAppearances,
		Display:     p.DisplayString(),
	}
}
