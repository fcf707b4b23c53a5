package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
)

type fakeStore struct {
	tag        *models.FaceTag
	getErr     error
	guardianOf bool

	deleted  []uuid.UUID
	promoted []float64
	faces    []models.ReferenceFace
	faceErr  error
}

func (f *fakeStore) GetTag(ctx context.Context, id uuid.UUID) (*models.FaceTag, error) {
	return f.tag, f.getErr
}

func (f *fakeStore) DeleteTag(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeStore) PromoteTag(ctx context.Context, id uuid.UUID, confidence float64) error {
	f.promoted = append(f.promoted, confidence)
	return nil
}

func (f *fakeStore) AddReferenceFace(ctx context.Context, face *models.ReferenceFace) error {
	if f.faceErr != nil {
		return f.faceErr
	}
	f.faces = append(f.faces, *face)
	return nil
}

func (f *fakeStore) IsGuardianOf(ctx context.Context, guardianID, childID uuid.UUID) (bool, error) {
	return f.guardianOf, nil
}

type fakeIndexer struct {
	faceID string
	err    error
	calls  int
}

func (f *fakeIndexer) IndexFace(ctx context.Context, ownerKey string, image []byte) (string, error) {
	f.calls++
	return f.faceID, f.err
}

type fakeObjects struct {
	data map[string][]byte
	err  error
}

func (f *fakeObjects) GetObject(ctx context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[key], nil
}

func tentativeTag() *models.FaceTag {
	childID := uuid.New()
	return &models.FaceTag{
		ID:           uuid.New(),
		VideoID:      uuid.New(),
		ChildID:      &childID,
		Label:        "Hana",
		StartTime:    4,
		EndTime:      6,
		Confidence:   70,
		Tentative:    true,
		ThumbnailKey: "tags/v/4000ms.jpg",
	}
}

func TestResolveRejectDeletesTag(t *testing.T) {
	tag := tentativeTag()
	store := &fakeStore{tag: tag, guardianOf: true}
	indexer := &fakeIndexer{}
	r := NewResolver(store, indexer, &fakeObjects{})

	if err := r.Resolve(context.Background(), uuid.New(), tag.ID, ActionReject); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != tag.ID {
		t.Errorf("deleted = %v", store.deleted)
	}
	if indexer.calls != 0 {
		t.Error("reject must not index")
	}
}

func TestResolveConfirmIndexesAndPromotes(t *testing.T) {
	tag := tentativeTag()
	store := &fakeStore{tag: tag, guardianOf: true}
	indexer := &fakeIndexer{faceID: "face-9"}
	objects := &fakeObjects{data: map[string][]byte{tag.ThumbnailKey: []byte("jpeg")}}
	r := NewResolver(store, indexer, objects)

	if err := r.Resolve(context.Background(), uuid.New(), tag.ID, ActionConfirm); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(store.faces) != 1 {
		t.Fatalf("faces = %d, want 1", len(store.faces))
	}
	face := store.faces[0]
	if face.ChildID != *tag.ChildID {
		t.Errorf("face child = %s, want %s", face.ChildID, tag.ChildID)
	}
	if face.ProviderFaceID != "face-9" {
		t.Errorf("face id = %q", face.ProviderFaceID)
	}
	if face.ImageKey != tag.ThumbnailKey {
		t.Errorf("image key = %q", face.ImageKey)
	}

	if len(store.promoted) != 1 || store.promoted[0] != models.ConfirmedConfidence {
		t.Errorf("promoted = %v, want [%d]", store.promoted, models.ConfirmedConfidence)
	}
	if len(store.deleted) != 0 {
		t.Error("confirm must not delete the tag")
	}
}

func TestResolveErrors(t *testing.T) {
	noChild := tentativeTag()
	noChild.ChildID = nil

	confirmed := tentativeTag()
	confirmed.Tentative = false

	tests := []struct {
		name    string
		store   *fakeStore
		indexer *fakeIndexer
		objects *fakeObjects
		action  Action
		want    error
	}{
		{
			name:  "unknown action",
			store: &fakeStore{tag: tentativeTag(), guardianOf: true},
			action: Action("shrug"),
			want:   ErrInvalidAction,
		},
		{
			name:   "missing tag",
			store:  &fakeStore{},
			action: ActionConfirm,
			want:   ErrNotFound,
		},
		{
			name:   "unresolved person tag",
			store:  &fakeStore{tag: noChild, guardianOf: true},
			action: ActionReject,
			want:   ErrForbidden,
		},
		{
			name:   "not a guardian",
			store:  &fakeStore{tag: tentativeTag(), guardianOf: false},
			action: ActionConfirm,
			want:   ErrForbidden,
		},
		{
			name:   "already confirmed",
			store:  &fakeStore{tag: confirmed, guardianOf: true},
			action: ActionConfirm,
			want:   ErrNotTentative,
		},
		{
			name:   "reject already confirmed",
			store:  &fakeStore{tag: confirmed, guardianOf: true},
			action: ActionReject,
			want:   ErrNotTentative,
		},
		{
			name:    "blurry capture",
			store:   &fakeStore{tag: tentativeTag(), guardianOf: true},
			indexer: &fakeIndexer{err: recognition.ErrNoFaceDetected},
			action:  ActionConfirm,
			want:    ErrIndexingFailed,
		},
		{
			name:    "capture image gone",
			store:   &fakeStore{tag: tentativeTag(), guardianOf: true},
			objects: &fakeObjects{err: errors.New("no such key")},
			action:  ActionConfirm,
			want:    ErrNoThumbnail,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			indexer := tt.indexer
			if indexer == nil {
				indexer = &fakeIndexer{faceID: "f"}
			}
			objects := tt.objects
			if objects == nil {
				objects = &fakeObjects{data: map[string][]byte{}}
			}
			r := NewResolver(tt.store, indexer, objects)

			var tagID uuid.UUID
			if tt.store.tag != nil {
				tagID = tt.store.tag.ID
			} else {
				tagID = uuid.New()
			}

			err := r.Resolve(context.Background(), uuid.New(), tagID, tt.action)
			if !errors.Is(err, tt.want) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.want)
			}
			if len(tt.store.deleted) != 0 {
				t.Errorf("failed resolve deleted tags: %v", tt.store.deleted)
			}
		})
	}
}
