package models

import (
	"time"

	"github.com/google/uuid"
)

// ConfirmedConfidence is the ceiling written when a guardian confirms a
// tentative tag.
const ConfirmedConfidence = 100

// FaceTag records one detected appearance of a child (or an unresolved
// person) in a video over [StartTime, EndTime] seconds.
//
// Invariant: Tentative tags always carry a ChildID and a ThumbnailKey —
// reviewable candidates are child-scoped and image-backed.
type FaceTag struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	VideoID      uuid.UUID  `json:"video_id" db:"video_id"`
	ChildID      *uuid.UUID `json:"child_id,omitempty" db:"child_id"`
	Label        string     `json:"label" db:"label"`
	StartTime    float64    `json:"start_time" db:"start_time"`
	EndTime      float64    `json:"end_time" db:"end_time"`
	Confidence   float64    `json:"confidence" db:"confidence"` // 0-100 similarity scale
	Tentative    bool       `json:"tentative" db:"tentative"`
	ThumbnailKey string     `json:"thumbnail_key,omitempty" db:"thumbnail_key"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Valid checks the tentative invariant.
func (t FaceTag) Valid() bool {
	if t.Tentative && (t.ChildID == nil || t.ThumbnailKey == "") {
		return false
	}
	return true
}
