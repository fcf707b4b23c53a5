package analysis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/config"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/delivery"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
)

func testConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		WindowSeconds:      4,
		StrideSeconds:      2,
		PollInterval:       time.Millisecond,
		PollMaxAttempts:    3,
		ConfirmedThreshold: 80,
		TentativeThreshold: 60,
		WorkerCount:        1,
	}
}

func testVideo() *models.Video {
	return &models.Video{
		ID:         uuid.New(),
		SchoolID:   uuid.New(),
		ClassID:    uuid.New(),
		Title:      "sports day",
		ExternalID: "ext-1",
	}
}

func readyDelivery() *fakeDelivery {
	return &fakeDelivery{statuses: []renditionStep{
		{r: &delivery.Rendition{Ready: true, URL: "u"}},
	}}
}

func TestRunCompleteCountsChildrenAndAppearances(t *testing.T) {
	video := testVideo()
	child := &models.Child{ID: uuid.New(), SchoolID: video.SchoolID, Name: "Hana"}

	store := &fakeStore{
		video:     video,
		enabled:   true,
		faceCount: 1,
		children:  map[string]*models.Child{child.ID.String(): child},
	}
	recog := &fakeRecognizer{matches: []recognition.Match{
		{OwnerKey: child.ID.String(), FaceID: "f1", Similarity: 92},
	}}
	orch := NewOrchestrator(store, readyDelivery(), recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 4s window at 2s stride gives offsets 0, 2, 4.
	if len(store.replaced) != 3 {
		t.Fatalf("tags = %d, want 3", len(store.replaced))
	}
	for _, tag := range store.replaced {
		if tag.ChildID == nil || *tag.ChildID != child.ID {
			t.Errorf("tag child = %v, want %s", tag.ChildID, child.ID)
		}
		if tag.Label != "Hana" {
			t.Errorf("tag label = %q", tag.Label)
		}
		if tag.Tentative {
			t.Error("full run tags must not be tentative")
		}
	}

	last := store.lastProgress()
	if last.State != models.AnalysisComplete {
		t.Fatalf("final state = %s", last.State)
	}
	if got := last.DisplayString(); got != "complete_1_children_3_appearances" {
		t.Errorf("display = %q", got)
	}
	if len(store.outcomes) != 1 || store.outcomes[0] != models.AnalysisComplete {
		t.Errorf("run outcome = %v", store.outcomes)
	}
	if len(store.claims) != 1 || store.claims[0] != models.RunFull {
		t.Errorf("claim kind = %v, want [full]", store.claims)
	}
}

func TestRunRerunIsIdempotent(t *testing.T) {
	video := testVideo()
	child := &models.Child{ID: uuid.New(), SchoolID: video.SchoolID, Name: "Hana"}

	store := &fakeStore{
		video:     video,
		enabled:   true,
		faceCount: 1,
		children:  map[string]*models.Child{child.ID.String(): child},
	}
	recog := &fakeRecognizer{matches: []recognition.Match{
		{OwnerKey: child.ID.String(), FaceID: "f1", Similarity: 92},
	}}
	orch := NewOrchestrator(store, readyDelivery(), recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := append([]models.FaceTag(nil), store.replaced...)
	video.AnalysisState = store.lastProgress().State

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if len(store.replaced) != len(first) {
		t.Fatalf("second run wrote %d tags, first wrote %d", len(store.replaced), len(first))
	}
	seen := map[string]bool{}
	for i, tag := range store.replaced {
		if tag.ChildID == nil || *tag.ChildID != *first[i].ChildID ||
			tag.StartTime != first[i].StartTime || tag.EndTime != first[i].EndTime ||
			tag.Label != first[i].Label || tag.Confidence != first[i].Confidence {
			t.Errorf("tag %d differs between runs: %+v vs %+v", i, tag, first[i])
		}
		key := tag.ChildID.String() + "@" + fmt.Sprint(tag.StartTime)
		if seen[key] {
			t.Errorf("duplicate tag for %s", key)
		}
		seen[key] = true
	}
	if got := store.lastProgress().DisplayString(); got != "complete_1_children_3_appearances" {
		t.Errorf("display after rerun = %q", got)
	}
}

func TestPersistRefusesInvalidTransition(t *testing.T) {
	store := &fakeStore{}
	status := &fakeStatus{}
	orch := NewOrchestrator(store, readyDelivery(), &fakeRecognizer{}, &fakeObjects{}, status, testConfig())
	videoID := uuid.New()

	got := orch.persist(context.Background(), videoID,
		models.AnalysisComplete, Progress{State: models.AnalysisFailed})
	if got != models.AnalysisComplete {
		t.Errorf("state after refused move = %s, want complete", got)
	}
	if len(store.progress) != 0 {
		t.Errorf("refused move wrote %d progress updates", len(store.progress))
	}
	if len(status.events) != 0 {
		t.Errorf("refused move published %d status events", len(status.events))
	}

	// A fresh trigger from a terminal state is the one allowed exit.
	got = orch.persist(context.Background(), videoID,
		models.AnalysisComplete, Progress{State: models.AnalysisQueued})
	if got != models.AnalysisQueued {
		t.Errorf("state after re-trigger = %s, want queued", got)
	}
	if len(store.progress) != 1 {
		t.Errorf("allowed move wrote %d progress updates, want 1", len(store.progress))
	}
}

func TestRunSkipsWhenDisabled(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, enabled: false, faceCount: 1}
	recog := &fakeRecognizer{}
	d := readyDelivery()
	orch := NewOrchestrator(store, d, recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := store.lastProgress().State; got != models.AnalysisSkippedDisabled {
		t.Errorf("final state = %s", got)
	}
	if recog.searches != 0 || d.statusCalls != 0 {
		t.Error("disabled runs must not call external services")
	}
}

func TestRunNoRegisteredFacesShortCircuits(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, enabled: true, faceCount: 0}
	recog := &fakeRecognizer{}
	d := readyDelivery()
	orch := NewOrchestrator(store, d, recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := store.lastProgress().State; got != models.AnalysisCompleteNoFaces {
		t.Errorf("final state = %s", got)
	}
	if d.statusCalls != 0 || d.thumbCalls != 0 || recog.searches != 0 {
		t.Error("short-circuit must not touch delivery or recognition")
	}
}

func TestRunRenditionTimeout(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, enabled: true, faceCount: 1}
	d := &fakeDelivery{statuses: []renditionStep{
		{r: &delivery.Rendition{Percent: 10}},
	}}
	orch := NewOrchestrator(store, d, &fakeRecognizer{}, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := store.lastProgress().State; got != models.AnalysisFailedMP4Timeout {
		t.Errorf("final state = %s", got)
	}

	var sawPercent bool
	for _, p := range store.progress {
		if p.State == models.AnalysisWaitingRendition && p.Percent == 10 {
			sawPercent = true
		}
	}
	if !sawPercent {
		t.Error("waiting percent was never persisted")
	}
}

func TestRunAllSamplesFailKeepsPriorTags(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, enabled: true, faceCount: 1}
	d := readyDelivery()
	d.thumbErrAll = true
	orch := NewOrchestrator(store, d, &fakeRecognizer{}, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := store.lastProgress().State; got != models.AnalysisFailedNoFrames {
		t.Errorf("final state = %s", got)
	}
	if store.replaceCalled {
		t.Error("a run with no frames must not replace existing tags")
	}
}

func TestRunClaimBusyDropsTrigger(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, enabled: true, faceCount: 1, claimBusy: true}
	orch := NewOrchestrator(store, readyDelivery(), &fakeRecognizer{}, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.progress) != 0 {
		t.Errorf("dropped trigger wrote %d progress updates", len(store.progress))
	}
	if len(store.outcomes) != 0 {
		t.Errorf("dropped trigger finished a run: %v", store.outcomes)
	}
}

func TestRunUnknownOwnerBecomesPersonLabel(t *testing.T) {
	video := testVideo()
	store := &fakeStore{
		video:     video,
		enabled:   true,
		faceCount: 1,
		children:  map[string]*models.Child{},
	}
	recog := &fakeRecognizer{matches: []recognition.Match{
		{OwnerKey: uuid.NewString(), FaceID: "f1", Similarity: 90},
	}}
	orch := NewOrchestrator(store, readyDelivery(), recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.replaced) != 3 {
		t.Fatalf("tags = %d, want 3", len(store.replaced))
	}
	for _, tag := range store.replaced {
		if tag.ChildID != nil {
			t.Error("unknown owner must not resolve to a child")
		}
		if tag.Label != "Person 1" {
			t.Errorf("tag label = %q, want \"Person 1\"", tag.Label)
		}
	}
	if store.lastProgress().Children != 0 {
		t.Errorf("children = %d, want 0", store.lastProgress().Children)
	}
}

func TestRunSearchesAtConfirmedThreshold(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, enabled: true, faceCount: 1}
	recog := &fakeRecognizer{}
	orch := NewOrchestrator(store, readyDelivery(), recog, &fakeObjects{}, nil, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, th := range recog.thresholds {
		if th != 80 {
			t.Errorf("search threshold = %v, want 80", th)
		}
	}
}

func TestRunPublishesStatusEvents(t *testing.T) {
	video := testVideo()
	store := &fakeStore{video: video, enabled: true, faceCount: 0}
	status := &fakeStatus{}
	orch := NewOrchestrator(store, readyDelivery(), &fakeRecognizer{}, &fakeObjects{}, status, testConfig())

	if err := orch.Run(context.Background(), video.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(status.events) != len(store.progress) {
		t.Fatalf("events = %d, progress writes = %d", len(status.events), len(store.progress))
	}
	last := status.events[len(status.events)-1]
	if last.State != models.AnalysisCompleteNoFaces {
		t.Errorf("last event state = %s", last.State)
	}
	if last.Display != "complete_no_registered_faces" {
		t.Errorf("last event display = %q", last.Display)
	}
}

type fakeStatus struct {
	events []models.StatusEvent
}

func (f *fakeStatus) PublishStatus(ctx context.Context, ev models.StatusEvent) error {
	f.events = append(f.events, ev)
	return nil
}
