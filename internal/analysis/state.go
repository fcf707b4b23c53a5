package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
)

// Progress is the full analysis progress of a video: typed state plus the
// numeric fields the legacy display token encodes.
type Progress struct {
	State       models.AnalysisState
	Percent     int
	Children    int
	Appearances int
}

// DisplayString renders the token polled by UI clients. Anything starting
// with "waiting_mp4_" is in-progress with a percentage; "complete_*" and
// "complete_no_registered_faces" are terminal success; "failed*" and
// "skipped_admin_disabled" are terminal non-success.
func (p Progress) DisplayString() string {
	switch p.State {
	case models.AnalysisWaitingRendition:
		return fmt.Sprintf("waiting_mp4_%d%%", p.Percent)
	case models.AnalysisExtracting:
		return "extracting_frames"
	case models.AnalysisComplete:
		return fmt.Sprintf("complete_%d_children_%d_appearances", p.Children, p.Appearances)
	case models.AnalysisFailedMP4Timeout:
		return "failed_mp4_timeout"
	default:
		return string(p.State)
	}
}

// ParseDisplay is the inverse of DisplayString for the tokens that carry
// numeric payloads. Unknown tokens come back as-is in State.
func ParseDisplay(s string) Progress {
	switch {
	case strings.HasPrefix(s, "waiting_mp4_") && strings.HasSuffix(s, "%"):
		pct, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(s, "waiting_mp4_"), "%"))
		if err == nil {
			return Progress{State: models.AnalysisWaitingRendition, Percent: pct}
		}
	case s == "extracting_frames":
		return Progress{State: models.AnalysisExtracting}
	case s == "failed_mp4_timeout":
		return Progress{State: models.AnalysisFailedMP4Timeout}
	case strings.HasPrefix(s, "complete_") && strings.HasSuffix(s, "_appearances"):
		var children, appearances int
		if _, err := fmt.Sscanf(s, "complete_%d_children_%d_appearances", &children, &appearances); err == nil {
			return Progress{State: models.AnalysisComplete, Children: children, Appearances: appearances}
		}
	}
	return Progress{State: models.AnalysisState(s)}
}

// transitions lists the allowed forward moves of the pipeline. Terminal
// states have no successors; a new run starts over from queued.
var transitions = map[models.AnalysisState][]models.AnalysisState{
	models.AnalysisNone: {models.AnalysisQueued},
	models.AnalysisQueued: {
		models.AnalysisWaitingRendition,
		models.AnalysisSkippedDisabled,
		models.AnalysisCompleteNoFaces,
	},
	models.AnalysisWaitingRendition: {
		models.AnalysisWaitingRendition, // percent updates
		models.AnalysisExtracting,
		models.AnalysisFailedMP4Timeout,
	},
	models.AnalysisExtracting: {
		models.AnalysisAnalyzing,
		models.AnalysisFailedNoFrames,
	},
	models.AnalysisAnalyzing: {models.AnalysisSaving},
	models.AnalysisSaving:    {models.AnalysisComplete},
}

// CanTransition reports whether from→to is an allowed move. Any
// non-terminal state may move to the generic failed state, and terminal
// states move nowhere without an explicit new trigger — but a new trigger
// restarts from queued, which is always reachable from terminal states.
func CanTransition(from, to models.AnalysisState) bool {
	if from.Terminal() {
		return to == models.AnalysisQueued
	}
	if to == models.AnalysisFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
