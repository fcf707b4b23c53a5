package analysis

import (
	"context"
	"log/slog"

	"github.com/tatsuro-shizuoka/sodachi-biyori-sub001/internal/observability"
)

// Sample is one extracted frame: the capture offset and the image bytes.
type Sample struct {
	Offset float64
	Image  []byte
}

// Sampler produces a lazy, finite sequence of thumbnails over a fixed
// analysis window at a fixed stride. Each sample is fetched independently;
// a failed fetch is skipped so one bad frame never aborts a run.
type Sampler struct {
	delivery Delivery
	window   float64 // seconds, inclusive
	stride   float64 // seconds
}

func NewSampler(d Delivery, windowSeconds, strideSeconds float64) *Sampler {
	return &Sampler{delivery: d, window: windowSeconds, stride: strideSeconds}
}

// ForEach fetches thumbnails at offsets 0, stride, 2*stride, ... window
// (inclusive) and calls fn for each one that arrives. Returns the number of
// samples delivered to fn; zero with a nil error means every fetch failed.
// An error from fn aborts the iteration.
func (s *Sampler) ForEach(ctx context.Context, externalID string, fn func(Sample) error) (int, error) {
	delivered := 0
	for offset := 0.0; offset <= s.window; offset += s.stride {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		img, err := s.delivery.ThumbnailAt(ctx, externalID, offset)
		if err != nil {
			observability.FramesSampled.WithLabelValues("error").Inc()
			slog.Warn("fetch sample", "external_id", externalID, "offset", offset, "error", err)
			continue
		}
		observability.FramesSampled.WithLabelValues("ok").Inc()

		delivered++
		if err := fn(Sample{Offset: offset, Image: img}); err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}
