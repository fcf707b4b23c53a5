package analysis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/delivery"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/models"
	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/recognition"
)

type renditionStep struct {
	r   *delivery.Rendition
	err error
}

type fakeDelivery struct {
	statuses    []renditionStep
	statusCalls int
	requested   int
	thumbErrAll bool
	thumbErrAt  map[float64]bool
	thumbCalls  int
}

func (f *fakeDelivery) RenditionStatus(ctx context.Context, externalID string) (*delivery.Rendition, error) {
	i := f.statusCalls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.statusCalls++
	step := f.statuses[i]
	return step.r, step.err
}

func (f *fakeDelivery) RequestRendition(ctx context.Context, externalID string) error {
	f.requested++
	return nil
}

func (f *fakeDelivery) ThumbnailAt(ctx context.Context, externalID string, offset float64) ([]byte, error) {
	f.thumbCalls++
	if f.thumbErrAll || f.thumbErrAt[offset] {
		return nil, delivery.ErrNotFound
	}
	return []byte(fmt.Sprintf("frame-%v", offset)), nil
}

type fakeStore struct {
	video      *models.Video
	getErr     error
	claimBusy  bool
	claimErr   error
	enabled    bool
	enabledErr error
	faceCount  int
	children   map[string]*models.Child

	progress      []Progress
	claims        []models.RunKind
	replaced      []models.FaceTag
	replaceCalled bool
	replaceErr    error
	upserted      []models.FaceTag
	upsertExists  bool
	outcomes      []models.AnalysisState
}

func (f *fakeStore) GetVideo(ctx context.Context, id uuid.UUID) (*models.Video, error) {
	return f.video, f.getErr
}

func (f *fakeStore) SetAnalysisProgress(ctx context.Context, videoID uuid.UUID,
	state models.AnalysisState, percent, children, appearances int) error {
	f.progress = append(f.progress, Progress{
		State: state, Percent: percent, Children: children, Appearances: appearances,
	})
	return nil
}

func (f *fakeStore) ClaimRun(ctx context.Context, videoID uuid.UUID, kind models.RunKind) (*models.AnalysisRun, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if f.claimBusy {
		return nil, nil
	}
	f.claims = append(f.claims, kind)
	return &models.AnalysisRun{ID: uuid.New(), VideoID: videoID, Kind: kind}, nil
}

func (f *fakeStore) FinishRun(ctx context.Context, runID uuid.UUID, outcome models.AnalysisState) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

func (f *fakeStore) AnalysisEnabled(ctx context.Context, schoolID uuid.UUID) (bool, error) {
	return f.enabled, f.enabledErr
}

func (f *fakeStore) CountReferenceFaces(ctx context.Context) (int, error) {
	return f.faceCount, nil
}

func (f *fakeStore) GetChild(ctx context.Context, id uuid.UUID) (*models.Child, error) {
	return f.children[id.String()], nil
}

func (f *fakeStore) ReplaceTagsForVideo(ctx context.Context, videoID uuid.UUID, tags []models.FaceTag) error {
	f.replaceCalled = true
	f.replaced = tags
	return f.replaceErr
}

func (f *fakeStore) UpsertTagIfAbsent(ctx context.Context, t *models.FaceTag) (bool, error) {
	f.upserted = append(f.upserted, *t)
	return !f.upsertExists, nil
}

type fakeRecognizer struct {
	matches    []recognition.Match
	searchErr  error
	ensureErr  error
	searches   int
	thresholds []float64
}

func (f *fakeRecognizer) EnsureCollection(ctx context.Context) error {
	return f.ensureErr
}

func (f *fakeRecognizer) SearchFaces(ctx context.Context, image []byte, minSimilarity float64) ([]recognition.Match, error) {
	f.searches++
	f.thresholds = append(f.thresholds, minSimilarity)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

type fakeObjects struct {
	puts   map[string][]byte
	putErr error
}

func (f *fakeObjects) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	f.puts[key] = data
	return nil
}

func (f *fakeStore) lastProgress() Progress {
	if len(f.progress) == 0 {
		return Progress{}
	}
	return f.progress[len(f.progress)-1]
}
