package detect

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog"
)

// Adapter turns raw backend output into at most one subject per frame.
type Adapter struct {
	logger    zerolog.Logger
	detector  Detector
	threshold float64
}

// NewAdapter wraps a backend. Candidates scoring below threshold are ignored.
func NewAdapter(logger zerolog.Logger, d Detector, threshold float64) *Adapter {
	return &Adapter{
		logger:    logger.With().Str("component", "detect").Logger(),
		detector:  d,
		threshold: threshold,
	}
}

// DetectSubject returns the largest candidate above the threshold, or nil when
// the frame has none. Backend failures are wrapped in ErrDetectionFailed;
// context cancellation is returned as is.
func (a *Adapter) DetectSubject(ctx context.Context, frame image.Image) (*Detection, error) {
	dets, err := a.detector.Detect(ctx, frame)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrDetectionFailed, err)
	}

	kept := FilterConfidence(dets, a.threshold)
	best, ok := SelectLargest(kept)
	if !ok {
		return nil, nil
	}

	a.logger.Debug().
		Int("candidates", len(dets)).
		Int("kept", len(kept)).
		Int("center_x", best.CenterX()).
		Float64("confidence", best.Confidence).
		Msg("subject selected")

	return &best, nil
}

// Close releases the backend.
func (a *Adapter) Close() error {
	return a.detector.Close()
}
