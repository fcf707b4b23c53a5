package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/config"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/observability"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
)

// Store is the slice of the persistence layer the pipeline consumes.
type Store interface {
	GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error)
	SetAnalysisProgress(ctx context.Context, videoID uuid.UUID,
		state models.AnalysisState, percent, children, appearances int) error
	ClaimRun(ctx context.Context, videoID uuid.UUID, kind models.RunKind) (*models.AnalysisRun, error)
	FinishRun(ctx context.Context, runID uuid.UUID, outcome models.AnalysisState) error
	AnalysisEnabled(ctx context.Context, schoolID uuid.UUID) (bool, error)
	CountReferenceFaces(ctx context.Context) (int, error)
	GetChild(ctx context.Context, id uuid.UUID) (*models.Child, error)
	ReplaceTagsForVideo(ctx context.Context, videoID uuid.UUID, tags []models.FaceTag) error
	UpsertTagIfAbsent(ctx context.Context, t *models.FaceTag) (bool, error)
}

// Recognizer is the slice of the face service the pipeline consumes.
type Recognizer interface {
	EnsureCollection(ctx context.Context) error
	SearchFaces(ctx context.Context, image []byte, minSimilarity float64) ([]recognition.Match, error)
}

// ObjectStore persists capture frames backing tentative tags.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// StatusPublisher fans out persisted state transitions. Optional.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, ev models.StatusEvent) error
}

// Orchestrator drives one video through the full face analysis pipeline:
// readiness wait → frame sampling → per-frame search → aggregation →
// persistence → terminal status. It runs detached from the triggering
// request and never lets a failure escape past a terminal state.
type Orchestrator struct {
	store   Store
	recog   Recognizer
	objects ObjectStore
	status  StatusPublisher
	poller  *Poller
	sampler *Sampler
	cfg     config.AnalysisConfig
}

func NewOrchestrator(store Store, d Delivery, recog Recognizer, objects ObjectStore,
	status StatusPublisher, cfg config.AnalysisConfig) *Orchestrator {

	return &Orchestrator{
		store:   store,
		recog:   recog,
		objects: objects,
		status:  status,
		poller:  NewPoller(d, cfg.PollInterval, cfg.PollMaxAttempts),
		sampler: NewSampler(d, cfg.WindowSeconds, cfg.StrideSeconds),
		cfg:     cfg,
	}
}

// Run executes a full analysis for the video. When another run is already
// in flight the trigger is dropped with a log line — the claim makes
// concurrent re-triggers an explicit no-op instead of a write race.
func (o *Orchestrator) Run(ctx context.Context, videoID uuid.UUID) error {
	video, err := o.store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("video %s not found", videoID)
	}

	run, err := o.store.ClaimRun(ctx, videoID, models.RunFull)
	if err != nil {
		return err
	}
	if run == nil {
		slog.Info("analysis already in flight, dropping trigger", "video_id", videoID)
		return nil
	}

	start := time.Now()
	outcome := o.execute(ctx, video)

	observability.AnalysisRuns.WithLabelValues(string(outcome)).Inc()
	observability.AnalysisRunDuration.Observe(time.Since(start).Seconds())

	if err := o.store.FinishRun(ctx, run.ID, outcome); err != nil {
		slog.Error("finish run", "video_id", videoID, "error", err)
	}

	slog.Info("analysis run finished",
		"video_id", videoID,
		"outcome", outcome,
		"duration", time.Since(start).String(),
	)
	return nil
}

// execute walks the state machine and returns the terminal state. Failures
// map to terminal states rather than propagating: the orchestrator must
// never crash its host process.
func (o *Orchestrator) execute(ctx context.Context, video *models.Video) (outcome models.AnalysisState) {
	cur := video.AnalysisState
	defer func() {
		if r := recover(); r != nil {
			slog.Error("analysis run panicked", "video_id", video.ID, "panic", r)
			outcome = o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisFailed})
		}
	}()

	cur = o.persist(ctx, video.ID, cur, Progress{State: models.AnalysisQueued})

	// Policy gate: per-school feature flag. Not a failure.
	enabled, err := o.store.AnalysisEnabled(ctx, video.SchoolID)
	if err != nil {
		slog.Error("check analysis flag", "video_id", video.ID, "error", err)
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisFailed})
	}
	if !enabled {
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisSkippedDisabled})
	}

	// Short-circuit before any external call: nothing to match against.
	faceCount, err := o.store.CountReferenceFaces(ctx)
	if err != nil {
		slog.Error("count reference faces", "video_id", video.ID, "error", err)
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisFailed})
	}
	if faceCount == 0 {
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisCompleteNoFaces})
	}

	// Wait for a downloadable rendition, surfacing the percentage after
	// every attempt.
	progress := Progress{State: models.AnalysisWaitingRendition}
	cur = o.persist(ctx, video.ID, cur, progress)

	_, err = o.poller.AwaitRendition(ctx, video.ExternalID, func(percent int) {
		progress.Percent = percent
		cur = o.persist(ctx, video.ID, cur, progress)
	})
	if err == ErrRenditionTimeout {
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisFailedMP4Timeout})
	}
	if err != nil {
		slog.Error("await rendition", "video_id", video.ID, "error", err)
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisFailed})
	}

	cur = o.persist(ctx, video.ID, cur, Progress{State: models.AnalysisExtracting})

	if err := o.recog.EnsureCollection(ctx); err != nil {
		slog.Warn("ensure collection", "video_id", video.ID, "error", err)
	}

	tags, sampled, err := o.collectTags(ctx, video)
	if err != nil {
		slog.Error("collect tags", "video_id", video.ID, "error", err)
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisFailed})
	}
	if sampled == 0 {
		// Every sample fetch failed: infrastructure trouble, not absence
		// of detections. Prior tags stay untouched.
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisFailedNoFrames})
	}

	cur = o.persist(ctx, video.ID, cur, Progress{State: models.AnalysisAnalyzing})

	children := map[string]bool{}
	for _, t := range tags {
		if t.ChildID != nil {
			children[t.ChildID.String()] = true
		}
	}

	cur = o.persist(ctx, video.ID, cur, Progress{State: models.AnalysisSaving})

	// Full replace: delete-then-insert keeps re-analysis idempotent.
	if err := o.store.ReplaceTagsForVideo(ctx, video.ID, tags); err != nil {
		slog.Error("replace tags", "video_id", video.ID, "error", err)
		return o.terminal(ctx, video.ID, cur, Progress{State: models.AnalysisFailed})
	}
	observability.TagsWritten.WithLabelValues("confirmed").Add(float64(len(tags)))

	return o.terminal(ctx, video.ID, cur, Progress{
		State:       models.AnalysisComplete,
		Children:    len(children),
		Appearances: len(tags),
	})
}

// collectTags samples the analysis window and searches each frame against
// the registered collection at the confirmed threshold. One tag per
// (child, offset); a match whose owner no longer exists becomes an
// unresolved "Person N" tag without a child.
func (o *Orchestrator) collectTags(ctx context.Context, video *models.Video) ([]models.FaceTag, int, error) {
	var tags []models.FaceTag
	seen := map[string]bool{}
	owners := map[string]*models.Child{}
	unknownLabels := map[string]string{}

	sampled, err := o.sampler.ForEach(ctx, video.ExternalID, func(smp Sample) error {
		matches, err := o.recog.SearchFaces(ctx, smp.Image, o.cfg.ConfirmedThreshold)
		if err != nil {
			observability.FaceSearches.WithLabelValues("error").Inc()
			slog.Warn("search faces", "video_id", video.ID, "offset", smp.Offset, "error", err)
			return nil // transient: skip this sample
		}
		observability.FaceSearches.WithLabelValues("ok").Inc()

		for _, m := range bestPerOwner(matches) {
			key := fmt.Sprintf("%s@%.3f", m.OwnerKey, smp.Offset)
			if seen[key] {
				continue
			}
			seen[key] = true

			tag := models.FaceTag{
				VideoID:    video.ID,
				StartTime:  smp.Offset,
				EndTime:    smp.Offset + o.cfg.StrideSeconds,
				Confidence: m.Similarity,
			}

			child, cached := owners[m.OwnerKey]
			if !cached {
				child = o.resolveChild(ctx, m.OwnerKey)
				owners[m.OwnerKey] = child
				if child == nil {
					unknownLabels[m.OwnerKey] = fmt.Sprintf("Person %d", len(unknownLabels)+1)
				}
			}
			if child != nil {
				id := child.ID
				tag.ChildID = &id
				tag.Label = child.Name
			} else {
				tag.Label = unknownLabels[m.OwnerKey]
			}

			tags = append(tags, tag)
		}
		return nil
	})
	return tags, sampled, err
}

// resolveChild maps a search owner key back to a child row; nil when the
// key does not parse or the child has been deleted since indexing.
func (o *Orchestrator) resolveChild(ctx context.Context, ownerKey string) *models.Child {
	childID, err := uuid.Parse(ownerKey)
	if err != nil {
		return nil
	}
	child, err := o.store.GetChild(ctx, childID)
	if err != nil {
		slog.Warn("resolve child", "owner_key", ownerKey, "error", err)
		return nil
	}
	return child
}

// bestPerOwner keeps the strongest match per owner. Matches arrive in
// descending similarity order, so the first occurrence wins.
func bestPerOwner(matches []recognition.Match) []recognition.Match {
	var out []recognition.Match
	seen := map[string]bool{}
	for _, m := range matches {
		if seen[m.OwnerKey] {
			continue
		}
		seen[m.OwnerKey] = true
		out = append(out, m)
	}
	return out
}

// persist writes one guarded state transition and fans it out. A move the
// transition table forbids is refused with a log line, leaving the stored
// state untouched; the effective state comes back either way so callers can
// thread it into the next transition. Same-state rewrites (percent bumps)
// always pass.
func (o *Orchestrator) persist(ctx context.Context, videoID uuid.UUID,
	from models.AnalysisState, p Progress) models.AnalysisState {

	if from != p.State && !CanTransition(from, p.State) {
		slog.Error("refusing invalid state transition",
			"video_id", videoID, "from", from, "to", p.State)
		return from
	}
	if err := o.store.SetAnalysisProgress(ctx, videoID,
		p.State, p.Percent, p.Children, p.Appearances); err != nil {
		slog.Error("persist analysis state", "video_id", videoID, "state", p.State, "error", err)
	}
	if o.status == nil {
		return p.State
	}
	ev := models.StatusEvent{
		VideoID:     videoID,
		State:       p.State,
		Percent:     p.Percent,
		Children:    p.Children,
		Appearances: p.Appearances,
		Display:     p.DisplayString(),
		At:          time.Now(),
	}
	if err := o.status.PublishStatus(ctx, ev); err != nil {
		slog.Warn("publish status", "video_id", videoID, "state", p.State, "error", err)
	}
	return p.State
}

func (o *Orchestrator) terminal(ctx context.Context, videoID uuid.UUID,
	from models.AnalysisState, p Progress) models.AnalysisState {
	return o.persist(ctx, videoID, from, p)
}
