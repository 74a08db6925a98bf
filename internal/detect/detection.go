// Package detect finds the subject of interest in a single decoded frame.
//
// Concrete inference backends implement Detector; the Adapter applies the
// confidence threshold and the "largest candidate wins" selection rule that
// the crop tracker relies on.
package detect

import (
	"context"
	"errors"
	"image"
)

// ErrDetectionFailed marks an inference failure on one frame. Callers treat it
// like "no detection" for that frame and keep going.
var ErrDetectionFailed = errors.New("detection failed")

// Detection is one candidate subject in pixel coordinates of its frame.
type Detection struct {
	X          int     `msgpack:"x" json:"x"`
	Y          int     `msgpack:"y" json:"y"`
	Width      int     `msgpack:"w" json:"width"`
	Height     int     `msgpack:"h" json:"height"`
	Confidence float64 `msgpack:"score" json:"confidence"`
}

// CenterX returns the horizontal centre of the box.
func (d Detection) CenterX() int { return d.X + d.Width/2 }

// CenterY returns the vertical centre of the box.
func (d Detection) CenterY() int { return d.Y + d.Height/2 }

// Area returns width*height, treating negative extents as empty.
func (d Detection) Area() int {
	if d.Width <= 0 || d.Height <= 0 {
		return 0
	}
	return d.Width * d.Height
}

// Rect returns the box as an image.Rectangle.
func (d Detection) Rect() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.Width, d.Y+d.Height)
}

// Detector is an inference backend. Implementations may apply their own
// confidence threshold; the Adapter filters again regardless.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
	Close() error
}

// SelectLargest returns the detection with the largest area. Ties go to the
// earliest index so selection is deterministic.
func SelectLargest(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := 0
	for i := 1; i < len(dets); i++ {
		if dets[i].Area() > dets[best].Area() {
			best = i
		}
	}
	return dets[best], true
}

// FilterConfidence drops detections below threshold. The input is not modified.
func FilterConfidence(dets []Detection, threshold float64) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}
