package models

import (
	"time"

	"github.com/google/uuid"
)

type Child struct {
	ID       uuid.UUID `json:"id" db:"id"`
	SchoolID uuid.UUID `json:"school_id" db:"school_id"`
	Name     string    `json:"name" db:"name"`

	// Denormalized pointer to the newest reference face. Authoritative
	// state lives in reference_faces and the remote collection.
	PrimaryFaceID  *uuid.UUID `json:"primary_face_id,omitempty" db:"primary_face_id"`
	PrimaryFaceKey string     `json:"primary_face_key,omitempty" db:"primary_face_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ReferenceFace links a child to a face indexed in the remote collection,
// together with the stored source image backing it.
type ReferenceFace struct {
	ID             uuid.UUID `json:"id" db:"id"`
	ChildID        uuid.UUID `json:"child_id" db:"child_id"`
	ProviderFaceID string    `json:"provider_face_id" db:"provider_face_id"`
	ImageKey       string    `json:"image_key" db:"image_key"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
