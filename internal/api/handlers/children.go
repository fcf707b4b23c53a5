package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/storage"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/pkg/dto"
)

type ChildHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
	recog *recognition.Client
}

func NewChildHandler(db *storage.PostgresStore, minio *storage.MinIOStore, recog *recognition.Client) *ChildHandler {
	return &ChildHandler{db: db, minio: minio, recog: recog}
}

func (h *ChildHandler) Create(c *gin.Context) {
	var req dto.CreateChildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	child := &models.Child{
		SchoolID: req.SchoolID,
		Name:     req.Name,
	}
	if err := h.db.CreateChild(c.Request.Context(), child); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.ChildResponse{
		ID:        child.ID,
		SchoolID:  child.SchoolID,
		Name:      child.Name,
		FaceCount: 0,
		CreatedAt: child.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

func (h *ChildHandler) List(c *gin.Context) {
	schoolID, err := uuid.Parse(c.Query("school_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid school_id"})
		return
	}

	children, err := h.db.ListChildren(c.Request.Context(), schoolID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ChildResponse, 0, len(children))
	for _, ch := range children {
		faceCount, _ := h.db.CountReferenceFacesForChild(c.Request.Context(), ch.ID)
		resp = append(resp, dto.ChildResponse{
			ID:            ch.ID,
			SchoolID:      ch.SchoolID,
			Name:          ch.Name,
			PrimaryFaceID: ch.PrimaryFaceID,
			FaceCount:     faceCount,
			CreatedAt:     ch.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"children": resp, "total": len(resp)})
}

func (h *ChildHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid child id"})
		return
	}

	child, err := h.db.GetChild(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if child == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "child not found"})
		return
	}

	faceCount, _ := h.db.CountReferenceFacesForChild(c.Request.Context(), id)

	c.JSON(http.StatusOK, dto.ChildResponse{
		ID:            child.ID,
		SchoolID:      child.SchoolID,
		Name:          child.Name,
		PrimaryFaceID: child.PrimaryFaceID,
		FaceCount:     faceCount,
		CreatedAt:     child.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

// RegisterFace accepts a multipart image upload, indexes the face in the
// remote collection, and stores it as a reference face.
func (h *ChildHandler) RegisterFace(c *gin.Context) {
	childID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid child id"})
		return
	}

	child, err := h.db.GetChild(c.Request.Context(), childID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if child == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "child not found"})
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	faceID, err := h.recog.IndexFace(c.Request.Context(), childID.String(), imageData)
	if err != nil {
		if errors.Is(err, recognition.ErrNoFaceDetected) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "image must contain exactly one face"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	imageKey := "faces/" + childID.String() + "/" + uuid.New().String() + "_" + header.Filename
	if err := h.minio.PutObject(c.Request.Context(), imageKey, imageData, header.Header.Get("Content-Type")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store image failed"})
		return
	}

	face := &models.ReferenceFace{
		ChildID:        childID,
		ProviderFaceID: faceID,
		ImageKey:       imageKey,
	}
	if err := h.db.AddReferenceFace(c.Request.Context(), face); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.ReferenceFaceResponse{
		ID:             face.ID,
		ChildID:        face.ChildID,
		ProviderFaceID: face.ProviderFaceID,
		ImageKey:       face.ImageKey,
		CreatedAt:      face.CreatedAt.Format("2006-01-02T15:04:05Z"),
	})
}

func (h *ChildHandler) ListFaces(c *gin.Context) {
	childID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid child id"})
		return
	}

	faces, err := h.db.ListReferenceFaces(c.Request.Context(), childID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.ReferenceFaceResponse, 0, len(faces))
	for _, f := range faces {
		resp = append(resp, dto.ReferenceFaceResponse{
			ID:             f.ID,
			ChildID:        f.ChildID,
			ProviderFaceID: f.ProviderFaceID,
			ImageKey:       f.ImageKey,
			CreatedAt:      f.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	c.JSON(http.StatusOK, gin.H{"faces": resp, "total": len(resp)})
}

// DeleteFace removes one reference face. The local row is authoritative;
// the remote removal is best effort and a failure only logs.
func (h *ChildHandler) DeleteFace(c *gin.Context) {
	childID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid child id"})
		return
	}
	faceID, err := uuid.Parse(c.Param("faceId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face id"})
		return
	}

	face, err := h.db.GetReferenceFace(c.Request.Context(), childID, faceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if face == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
		return
	}

	if err := h.db.DeleteReferenceFace(c.Request.Context(), childID, faceID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.recog.RemoveFace(c.Request.Context(), face.ProviderFaceID); err != nil {
		slog.Warn("remove remote face", "face_id", face.ProviderFaceID, "error", err)
	}
	if err := h.minio.DeleteObject(c.Request.Context(), face.ImageKey); err != nil {
		slog.Warn("delete face image", "key", face.ImageKey, "error", err)
	}

	// A child without any reference face can no longer be verified; leaving
	// their tags around would make them unresolvable.
	remaining, err := h.db.CountReferenceFacesForChild(c.Request.Context(), childID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if remaining == 0 {
		if _, err := h.db.DeleteTagsForChild(c.Request.Context(), childID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ClearFaces removes every reference face for a child plus all of the
// child's tags. Used when a guardian revokes recognition consent.
func (h *ChildHandler) ClearFaces(c *gin.Context) {
	childID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid child id"})
		return
	}

	child, err := h.db.GetChild(c.Request.Context(), childID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if child == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "child not found"})
		return
	}

	faces, err := h.db.ClearReferenceFaces(c.Request.Context(), childID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	keys := make([]string, 0, len(faces))
	for _, f := range faces {
		keys = append(keys, f.ImageKey)
		if err := h.recog.RemoveFace(c.Request.Context(), f.ProviderFaceID); err != nil {
			slog.Warn("remove remote face", "face_id", f.ProviderFaceID, "error", err)
		}
	}
	if err := h.minio.DeleteObjects(c.Request.Context(), keys); err != nil {
		slog.Warn("delete face images", "child_id", childID, "error", err)
	}

	removedTags, err := h.db.DeleteTagsForChild(c.Request.Context(), childID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"removed_faces": len(faces),
		"removed_tags":  removedTags,
	})
}

// AddGuardianship links a guardian account to a child.
func (h *ChildHandler) AddGuardianship(c *gin.Context) {
	var req dto.AddGuardianshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	child, err := h.db.GetChild(c.Request.Context(), req.ChildID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if child == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "child not found"})
		return
	}

	if err := h.db.AddGuardianship(c.Request.Context(), req.GuardianID, req.ChildID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "linked"})
}
