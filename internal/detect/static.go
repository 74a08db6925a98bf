package detect

import (
	"context"
	"image"
)

// StaticDetector never finds anything, which pins the tracker to its centred
// fallback window.
type StaticDetector struct{}

func (StaticDetector) Detect(context.Context, image.Image) ([]Detection, error) { return nil, nil }

func (StaticDetector) Close() error { return nil }
