// Package dto defines the request and response shapes of the HTTP API.
package dto

import (
	"github.com/google/uuid"
)

type CreateVideoRequest struct {
	SchoolID   uuid.UUID `json:"school_id" binding:"required"`
	ClassID    uuid.UUID `json:"class_id" binding:"required"`
	Title      string    `json:"title" binding:"required"`
	ExternalID string    `json:"external_id" binding:"required"`
	SourceURL  string    `json:"source_url"`
}

type VideoResponse struct {
	ID         uuid.UUID `json:"id"`
	SchoolID   uuid.UUID `json:"school_id"`
	ClassID    uuid.UUID `json:"class_id"`
	Title      string    `json:"title"`
	ExternalID string    `json:"external_id"`
	SourceURL  string    `json:"source_url,omitempty"`
	Analysis   Analysis  `json:"analysis"`
	CreatedAt  string    `json:"created_at"`
}

// Analysis carries both the structured progress fields and the legacy
// display token older clients parse.
type Analysis struct {
	State       string `json:"state"`
	Percent     int    `json:"percent"`
	Children    int    `json:"children"`
	Appearances int    `json:"appearances"`
	Display     string `json:"display"`
}

type TriggerAnalysisResponse struct {
	VideoID uuid.UUID `json:"video_id"`
	Status  string    `json:"status"`
}

type CreateChildRequest struct {
	SchoolID uuid.UUID `json:"school_id" binding:"required"`
	Name     string    `json:"name" binding:"required"`
}

type ChildResponse struct {
	ID             uuid.UUID  `json:"id"`
	SchoolID       uuid.UUID  `json:"school_id"`
	Name           string     `json:"name"`
	PrimaryFaceID  *uuid.UUID `json:"primary_face_id,omitempty"`
	FaceCount      int        `json:"face_count"`
	CreatedAt      string     `json:"created_at"`
}

type ReferenceFaceResponse struct {
	ID             uuid.UUID `json:"id"`
	ChildID        uuid.UUID `json:"child_id"`
	ProviderFaceID string    `json:"provider_face_id"`
	ImageKey       string    `json:"image_key"`
	CreatedAt      string    `json:"created_at"`
}

type TagResponse struct {
	ID           uuid.UUID  `json:"id"`
	VideoID      uuid.UUID  `json:"video_id"`
	ChildID      *uuid.UUID `json:"child_id,omitempty"`
	Label        string     `json:"label"`
	StartTime    float64    `json:"start_time"`
	EndTime      float64    `json:"end_time"`
	Confidence   float64    `json:"confidence"`
	Tentative    bool       `json:"tentative"`
	HasThumbnail bool       `json:"has_thumbnail"`
	CreatedAt    string     `json:"created_at"`
}

type ResolveTagRequest struct {
	Action string `json:"action" binding:"required"`
}

type SetAnalysisEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type AddGuardianshipRequest struct {
	GuardianID uuid.UUID `json:"guardian_id" binding:"required"`
	ChildID    uuid.UUID `json:"child_id" binding:"required"`
}

// StatusMessage is the WebSocket frame pushed on every persisted state
// transition.
type StatusMessage struct {
	VideoID     uuid.UUID `json:"video_id"`
	State       string    `json:"state"`
	Percent     int       `json:"percent"`
	Children    int       `json:"children"`
	Appearances int       `json:"appearances"`
	Display     string    `json:"display"`
	At          string    `json:"at"`
}
