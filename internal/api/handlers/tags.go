package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/auth"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/storage"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/verify"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/pkg/dto"
)

type TagHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	resolver *verify.Resolver
}

func NewTagHandler(db *storage.PostgresStore, minio *storage.MinIOStore, resolver *verify.Resolver) *TagHandler {
	return &TagHandler{db: db, minio: minio, resolver: resolver}
}

func (h *TagHandler) ListForVideo(c *gin.Context) {
	videoID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid video id"})
		return
	}

	tags, err := h.db.ListTagsForVideo(c.Request.Context(), videoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.TagResponse, 0, len(tags))
	for _, t := range tags {
		resp = append(resp, dto.TagResponse{
			ID:           t.ID,
			VideoID:      t.VideoID,
			ChildID:      t.ChildID,
			Label:        t.Label,
			StartTime:    t.StartTime,
			EndTime:      t.EndTime,
			Confidence:   t.Confidence,
			Tentative:    t.Tentative,
			HasThumbnail: t.ThumbnailKey != "",
			CreatedAt:    t.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"tags": resp, "total": len(resp)})
}

// Thumbnail serves the capture frame backing a tentative tag.
func (h *TagHandler) Thumbnail(c *gin.Context) {
	tagID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag id"})
		return
	}

	tag, err := h.db.GetTag(c.Request.Context(), tagID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tag == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tag not found"})
		return
	}
	if tag.ThumbnailKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "tag has no capture image"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), tag.ThumbnailKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

// Resolve applies a guardian's confirm/reject decision to a tentative tag.
// The guardian is identified by the X-Guardian-ID header set by the portal
// after its own session check.
func (h *TagHandler) Resolve(c *gin.Context) {
	tagID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tag id"})
		return
	}

	guardianID, ok := auth.GuardianID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid guardian id"})
		return
	}

	var req dto.ResolveTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := verify.Action(req.Action)
	if err := h.resolver.Resolve(c.Request.Context(), guardianID, tagID, action); err != nil {
		switch {
		case errors.Is(err, verify.ErrInvalidAction):
			c.JSON(http.StatusBadRequest, gin.H{"error": "action must be confirm or reject"})
		case errors.Is(err, verify.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "tag not found"})
		case errors.Is(err, verify.ErrForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a guardian of this child"})
		case errors.Is(err, verify.ErrNotTentative):
			c.JSON(http.StatusConflict, gin.H{"error": "tag is not awaiting review"})
		case errors.Is(err, verify.ErrIndexingFailed):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "capture image has no indexable face"})
		case errors.Is(err, verify.ErrNoThumbnail):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "tag capture image unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	status := "rejected"
	if action == verify.ActionConfirm {
		status = "confirmed"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
