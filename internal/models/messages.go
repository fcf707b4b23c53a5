package models

import (
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobFullAnalysis JobKind = "full"
	JobFaceSweep    JobKind = "sweep"
)

// AnalysisJob is the message published to NATS for analyzer processing.
type AnalysisJob struct {
	VideoID     uuid.UUID `json:"video_id"`
	Kind        JobKind   `json:"kind"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// StatusEvent is published after every persisted state transition so the
// API can push live progress to polling/websocket clients.
type StatusEvent struct {
	VideoID     uuid.UUID     `json:"video_id"`
	State       AnalysisState `json:"state"`
	Percent     int           `json:"percent"`
	Children    int           `json:"children"`
	Appearances int           `json:"appearances"`
	Display     string        `json:"display"`
	At          time.Time     `json:"at"`
}
