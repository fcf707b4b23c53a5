// Package verify implements the guardian-facing confirm/reject loop over
// tentative face tags. Confirmation is the only path by which recognition
// accuracy improves: each confirmed capture grows the child's reference
// face set used by future runs.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/observability"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
)

var (
	ErrNotFound       = errors.New("verify: tag not found")
	ErrForbidden      = errors.New("verify: guardian not linked to tag's child")
	ErrNotTentative   = errors.New("verify: tag is not awaiting review")
	ErrNoThumbnail    = errors.New("verify: tag has no capture image")
	ErrIndexingFailed = errors.New("verify: capture image has no indexable face")
	ErrInvalidAction  = errors.New("verify: unknown action")
)

type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
)

// Store is the slice of the persistence layer the resolver consumes.
type Store interface {
	GetTag(ctx context.Context, id uuid.UUID) (*models.FaceTag, error)
	DeleteTag(ctx context.Context, id uuid.UUID) error
	PromoteTag(ctx context.Context, id uuid.UUID, confidence float64) error
	AddReferenceFace(ctx context.Context, f *models.ReferenceFace) error
	IsGuardianOf(ctx context.Context, guardianID, childID uuid.UUID) (bool, error)
}

// Indexer submits a confirmed capture to the remote face collection.
type Indexer interface {
	IndexFace(ctx context.Context, ownerKey string, image []byte) (string, error)
}

// ObjectStore reads the capture frame backing a tentative tag.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type Resolver struct {
	store   Store
	indexer Indexer
	objects ObjectStore
}

func NewResolver(store Store, indexer Indexer, objects ObjectStore) *Resolver {
	return &Resolver{store: store, indexer: indexer, objects: objects}
}

// Resolve applies a guardian's decision to a tentative tag.
//
// Reject deletes the tag and nothing else. Confirm indexes the tag's
// capture image as a new reference face for the child, then promotes the
// tag to confirmed at the confidence ceiling. Either way the tag must still
// be awaiting review.
func (r *Resolver) Resolve(ctx context.Context, guardianID, tagID uuid.UUID, action Action) error {
	if action != ActionConfirm && action != ActionReject {
		return ErrInvalidAction
	}

	tag, err := r.store.GetTag(ctx, tagID)
	if err != nil {
		return err
	}
	if tag == nil {
		return ErrNotFound
	}
	if tag.ChildID == nil {
		// Unresolved "Person N" tags have no custodian; nobody may
		// resolve them.
		return ErrForbidden
	}

	ok, err := r.store.IsGuardianOf(ctx, guardianID, *tag.ChildID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}

	// Confirmed tags are settled; neither action may touch them.
	if !tag.Tentative {
		return ErrNotTentative
	}

	switch action {
	case ActionReject:
		if err := r.store.DeleteTag(ctx, tagID); err != nil {
			return err
		}
		observability.TagsResolved.WithLabelValues("reject").Inc()
		return nil

	case ActionConfirm:
		return r.confirm(ctx, tag)
	}
	return ErrInvalidAction
}

func (r *Resolver) confirm(ctx context.Context, tag *models.FaceTag) error {
	if tag.ThumbnailKey == "" {
		// Tentative tags are required to carry a capture image; a missing
		// key is data corruption, not a user error.
		return ErrNoThumbnail
	}

	image, err := r.objects.GetObject(ctx, tag.ThumbnailKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoThumbnail, err)
	}

	faceID, err := r.indexer.IndexFace(ctx, tag.ChildID.String(), image)
	if err != nil {
		if errors.Is(err, recognition.ErrNoFaceDetected) {
			// The capture was too blurry to index. Surfaced to the user
			// as retry-later, not logged as an incident.
			return ErrIndexingFailed
		}
		return fmt.Errorf("index confirmed face: %w", err)
	}

	face := &models.ReferenceFace{
		ChildID:        *tag.ChildID,
		ProviderFaceID: faceID,
		ImageKey:       tag.ThumbnailKey,
	}
	if err := r.store.AddReferenceFace(ctx, face); err != nil {
		return fmt.Errorf("persist reference face: %w", err)
	}

	if err := r.store.PromoteTag(ctx, tag.ID, models.ConfirmedConfidence); err != nil {
		return fmt.Errorf("promote tag: %w", err)
	}

	observability.TagsResolved.WithLabelValues("confirm").Inc()
	slog.Info("tentative tag confirmed",
		"tag_id", tag.ID,
		"child_id", tag.ChildID,
		"face_id", faceID,
	)
	return nil
}
