package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
)

func TestSweepWritesTentativeTagWithCapture(t *testing.T) {
	video := testVideo()
	child := &models.Child{ID: uuid.New(), SchoolID: video.SchoolID, Name: "Hana"}

	store := &fakeStore{
		video:    video,
		children: map[string]*models.Child{child.ID.String(): child},
	}
	// Above the tentative threshold but below the confirmed one.
	recog := &fakeRecognizer{matches: []recognition.Match{
		{OwnerKey: child.ID.String(), FaceID: "f1", Similarity: 70},
	}}
	objects := &fakeObjects{}
	orch := NewOrchestrator(store, readyDelivery(), recog, objects, nil, testConfig())

	if err := orch.Sweep(context.Background(), video.ID); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(store.upserted) != 3 {
		t.Fatalf("upserts = %d, want 3", len(store.upserted))
	}
	for _, tag := range store.upserted {
		if !tag.Tentative {
			t.Error("sub-threshold match must be tentative")
		}
		if tag.ThumbnailKey == "" {
			t.Error("tentative tag must carry a capture key")
		}
		if !strings.HasPrefix(tag.ThumbnailKey, "tags/"+video.ID.String()+"/") {
			t.Errorf("capture key = %q", tag.ThumbnailKey)
		}
		if _, ok := objects.puts[tag.ThumbnailKey]; !ok {
			t.Errorf("capture frame not stored at %q", tag.ThumbnailKey)
		}
		if !tag.Valid() {
			t.Error("tag violates tentative invariant")
		}
	}

	// Sweeps use the lower threshold.
	for _, th := range recog.thresholds {
		if th != 60 {
			t.Errorf("search threshold = %v, want 60", th)
		}
	}

	// Stale-run recovery treats sweeps differently; the kind must be
	// recorded at claim time.
	if len(store.claims) != 1 || store.claims[0] != models.RunSweep {
		t.Errorf("claim kind = %v, want [sweep]", store.claims)
	}
}

func TestSweepStrongMatchIsConfirmed(t *testing.T) {
	video := testVideo()
	child := &models.Child{ID: uuid.New(), SchoolID: video.SchoolID, Name: "Hana"}

	store := &fakeStore{
		video:    video,
		children: map[string]*models.Child{child.ID.String(): child},
	}
	recog := &fakeRecognizer{matches: []recognition.Match{
		{OwnerKey: child.ID.String(), FaceID: "f1", Similarity: 95},
	}}
	objects := &fakeObjects{}
	orch := NewOrchestrator(store, readyDelivery(), recog, objects, nil, testConfig())

	if err := orch.Sweep(context.Background(), video.ID); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	for _, tag := range store.upserted {
		if tag.Tentative {
			t.Error("strong match must not be tentative")
		}
		if tag.ThumbnailKey != "" {
			t.Error("confirmed tag should not carry a capture key")
		}
	}
	if len(objects.puts) != 0 {
		t.Errorf("stored %d capture frames for confirmed tags", len(objects.puts))
	}
}

func TestSweepSkipsUnknownOwners(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, children: map[string]*models.Child{}}
	recog := &fakeRecognizer{matches: []recognition.Match{
		{OwnerKey: uuid.NewString(), FaceID: "f1", Similarity: 70},
	}}
	orch := NewOrchestrator(store, readyDelivery(), recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Sweep(context.Background(), video.ID); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.upserted) != 0 {
		t.Errorf("upserts = %d, want 0", len(store.upserted))
	}
}

func TestSweepRepeatedTriggerDoesNotDuplicate(t *testing.T) {
	video := testVideo()
	child := &models.Child{ID: uuid.New(), SchoolID: video.SchoolID, Name: "Hana"}

	store := &fakeStore{
		video:        video,
		children:     map[string]*models.Child{child.ID.String(): child},
		upsertExists: true,
	}
	recog := &fakeRecognizer{matches: []recognition.Match{
		{OwnerKey: child.ID.String(), FaceID: "f1", Similarity: 95},
	}}
	orch := NewOrchestrator(store, readyDelivery(), recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Sweep(context.Background(), video.ID); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.outcomes) != 1 || store.outcomes[0] != models.AnalysisComplete {
		t.Errorf("outcome = %v, want complete", store.outcomes)
	}
}

func TestSweepDoesNotTouchAnalysisState(t *testing.T) {
	video := testVideo()
	child := &models.Child{ID: uuid.New(), SchoolID: video.SchoolID, Name: "Hana"}

	store := &fakeStore{
		video:    video,
		children: map[string]*models.Child{child.ID.String(): child},
	}
	recog := &fakeRecognizer{matches: []recognition.Match{
		{OwnerKey: child.ID.String(), FaceID: "f1", Similarity: 95},
	}}
	orch := NewOrchestrator(store, readyDelivery(), recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Sweep(context.Background(), video.ID); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.progress) != 0 {
		t.Errorf("sweep wrote %d progress updates", len(store.progress))
	}
}

func TestSweepClaimBusyDropsTrigger(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, claimBusy: true}
	recog := &fakeRecognizer{}
	orch := NewOrchestrator(store, readyDelivery(), recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Sweep(context.Background(), video.ID); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if recog.searches != 0 {
		t.Error("dropped sweep must not search")
	}
	if len(store.outcomes) != 0 {
		t.Errorf("dropped sweep finished a run: %v", store.outcomes)
	}
}

func TestSweepAllSamplesFail(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video}
	d := readyDelivery()
	d.thumbErrAll = true
	orch := NewOrchestrator(store, d, &fakeRecognizer{}, &fakeObjects{}, nil, testConfig())

	if err := orch.Sweep(context.Background(), video.ID); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.outcomes) != 1 || store.outcomes[0] != models.AnalysisFailedNoFrames {
		t.Errorf("outcome = %v, want failed_no_frames", store.outcomes)
	}
}
