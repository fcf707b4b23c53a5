package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/observability"
)

// Sweep runs the on-demand, guardian-triggered face search for one video.
// Unlike Run it is incremental: it searches at the lower tentative
// threshold, stores the capture frame for each candidate, and upserts tags
// deduplicated on (child, startTime) — repeated triggers never duplicate.
// It does not touch the video's analysis status.
func (o *Orchestrator) Sweep(ctx context.Context, videoID uuid.UUID) error {
	video, err := o.store.GetVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if video == nil {
		return fmt.Errorf("video %s not found", videoID)
	}

	run, err := o.store.ClaimRun(ctx, videoID, models.RunSweep)
	if err != nil {
		return err
	}
	if run == nil {
		slog.Info("analysis already in flight, dropping sweep", "video_id", videoID)
		return nil
	}

	inserted, outcome := o.sweep(ctx, video)
	if err := o.store.FinishRun(ctx, run.ID, outcome); err != nil {
		slog.Error("finish sweep run", "video_id", videoID, "error", err)
	}

	slog.Info("face sweep finished", "video_id", videoID, "outcome", outcome, "inserted", inserted)
	return nil
}

func (o *Orchestrator) sweep(ctx context.Context, video *models.Video) (inserted int, outcome models.AnalysisState) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("face sweep panicked", "video_id", video.ID, "panic", r)
			outcome = models.AnalysisFailed
		}
	}()

	if err := o.recog.EnsureCollection(ctx); err != nil {
		slog.Warn("ensure collection", "video_id", video.ID, "error", err)
	}

	owners := map[string]*models.Child{}

	sampled, err := o.sampler.ForEach(ctx, video.ExternalID, func(smp Sample) error {
		matches, err := o.recog.SearchFaces(ctx, smp.Image, o.cfg.TentativeThreshold)
		if err != nil {
			observability.FaceSearches.WithLabelValues("error").Inc()
			slog.Warn("search faces", "video_id", video.ID, "offset", smp.Offset, "error", err)
			return nil
		}
		observability.FaceSearches.WithLabelValues("ok").Inc()

		for _, m := range bestPerOwner(matches) {
			child, cached := owners[m.OwnerKey]
			if !cached {
				child = o.resolveChild(ctx, m.OwnerKey)
				owners[m.OwnerKey] = child
			}
			if child == nil {
				// Candidates must be reviewable: child-scoped only.
				continue
			}

			id := child.ID
			tag := models.FaceTag{
				VideoID:    video.ID,
				ChildID:    &id,
				Label:      child.Name,
				StartTime:  smp.Offset,
				EndTime:    smp.Offset + o.cfg.StrideSeconds,
				Confidence: m.Similarity,
			}

			kind := "confirmed"
			if m.Similarity < o.cfg.ConfirmedThreshold {
				// Low-confidence candidate: keep the frame so a guardian
				// can review it, and mark it tentative.
				thumbKey := fmt.Sprintf("tags/%s/%dms.jpg", video.ID, int(smp.Offset*1000))
				if err := o.objects.PutObject(ctx, thumbKey, smp.Image, "image/jpeg"); err != nil {
					slog.Warn("store capture frame", "video_id", video.ID, "offset", smp.Offset, "error", err)
					continue
				}
				tag.Tentative = true
				tag.ThumbnailKey = thumbKey
				kind = "tentative"
			}

			ok, err := o.store.UpsertTagIfAbsent(ctx, &tag)
			if err != nil {
				slog.Warn("upsert tag", "video_id", video.ID, "offset", smp.Offset, "error", err)
				continue
			}
			if ok {
				inserted++
				observability.TagsWritten.WithLabelValues(kind).Inc()
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("sweep samples", "video_id", video.ID, "error", err)
		return inserted, models.AnalysisFailed
	}
	if sampled == 0 {
		return inserted, models.AnalysisFailedNoFrames
	}
	return inserted, models.AnalysisComplete
}
