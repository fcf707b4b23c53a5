package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/delivery"
)

// ErrRenditionTimeout means the delivery provider did not produce a
// downloadable rendition within the attempt budget. Terminal at the
// orchestrator level; a fresh trigger retries from scratch.
var ErrRenditionTimeout = errors.New("analysis: rendition not ready after max attempts")

// Delivery is the slice of the delivery provider the pipeline consumes.
type Delivery interface {
	RenditionStatus(ctx context.Context, externalID string) (*delivery.Rendition, error)
	RequestRendition(ctx context.Context, externalID string) error
	ThumbnailAt(ctx context.Context, externalID string, offsetSeconds float64) ([]byte, error)
}

// Poller waits for a downloadable full-resolution rendition to exist.
type Poller struct {
	delivery    Delivery
	interval    time.Duration
	maxAttempts int
}

func NewPoller(d Delivery, interval time.Duration, maxAttempts int) *Poller {
	return &Poller{delivery: d, interval: interval, maxAttempts: maxAttempts}
}

// AwaitRendition polls the provider up to maxAttempts times, interval
// apart. When no rendition request exists yet it issues one. onProgress is
// called with the completion percentage after every not-ready attempt so
// external observers see liveness. Returns the rendition URL when ready.
func (p *Poller) AwaitRendition(ctx context.Context, externalID string, onProgress func(percent int)) (string, error) {
	lastPercent := 0
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		status, err := p.delivery.RenditionStatus(ctx, externalID)
		switch {
		case errors.Is(err, delivery.ErrNotFound):
			// No rendition requested yet — kick one off and keep waiting.
			if reqErr := p.delivery.RequestRendition(ctx, externalID); reqErr != nil {
				slog.Warn("request rendition", "external_id", externalID, "error", reqErr)
			}
			onProgress(0)
		case err != nil:
			// A transient status failure must not rewind the reported
			// percentage.
			slog.Warn("rendition status", "external_id", externalID, "attempt", attempt, "error", err)
			onProgress(lastPercent)
		case status.Ready:
			return status.URL, nil
		default:
			lastPercent = status.Percent
			onProgress(status.Percent)
		}

		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(p.interval):
		}
	}
	return "", ErrRenditionTimeout
}
