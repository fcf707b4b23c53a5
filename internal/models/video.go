package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisState is the persisted state of a video's face analysis pipeline.
// The legacy display token shown to polling clients (waiting_mp4_40%,
// complete_2_children_5_appearances, ...) is derived, never stored.
type AnalysisState string

const (
	AnalysisNone              AnalysisState = ""
	AnalysisQueued            AnalysisState = "queued"
	AnalysisWaitingRendition  AnalysisState = "waiting_rendition"
	AnalysisExtracting        AnalysisState = "extracting"
	AnalysisAnalyzing         AnalysisState = "analyzing"
	AnalysisSaving            AnalysisState = "saving"
	AnalysisComplete          AnalysisState = "complete"
	AnalysisCompleteNoFaces   AnalysisState = "complete_no_registered_faces"
	AnalysisSkippedDisabled   AnalysisState = "skipped_admin_disabled"
	AnalysisFailed            AnalysisState = "failed"
	AnalysisFailedMP4Timeout  AnalysisState = "failed_rendition_timeout"
	AnalysisFailedNoFrames    AnalysisState = "failed_no_frames"
)

// TerminalStates lists every state that ends a run. No further transition
// happens from any of them without a new explicit trigger.
func TerminalStates() []AnalysisState {
	return []AnalysisState{
		AnalysisComplete,
		AnalysisCompleteNoFaces,
		AnalysisSkippedDisabled,
		AnalysisFailed,
		AnalysisFailedMP4Timeout,
		AnalysisFailedNoFrames,
	}
}

func (s AnalysisState) Terminal() bool {
	for _, t := range TerminalStates() {
		if s == t {
			return true
		}
	}
	return false
}

type Video struct {
	ID          uuid.UUID `json:"id" db:"id"`
	SchoolID    uuid.UUID `json:"school_id" db:"school_id"`
	ClassID     uuid.UUID `json:"class_id" db:"class_id"`
	Title       string    `json:"title" db:"title"`
	ExternalID  string    `json:"external_id" db:"external_id"` // delivery provider id
	SourceURL   string    `json:"source_url" db:"source_url"`

	AnalysisState       AnalysisState `json:"analysis_state" db:"analysis_state"`
	AnalysisPercent     int           `json:"analysis_percent" db:"analysis_percent"`
	AnalysisChildren    int           `json:"analysis_children" db:"analysis_children"`
	AnalysisAppearances int           `json:"analysis_appearances" db:"analysis_appearances"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RunKind distinguishes a full analysis run, which owns the video's status
// columns, from an incremental sweep, which never writes them. Stale-run
// recovery uses the kind to decide whether the video itself must be failed.
type RunKind string

const (
	RunFull  RunKind = "full"
	RunSweep RunKind = "sweep"
)

// AnalysisRun is one claimed execution of the pipeline for a video.
// At most one unfinished run exists per video; the claim insert enforces it.
type AnalysisRun struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	VideoID    uuid.UUID     `json:"video_id" db:"video_id"`
	Kind       RunKind       `json:"kind" db:"kind"`
	Outcome    AnalysisState `json:"outcome" db:"outcome"`
	StartedAt  time.Time     `json:"started_at" db:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty" db:"finished_at"`
}
