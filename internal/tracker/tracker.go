// Package tracker turns a sparse, noisy sequence of subject detections into a
// smoothly moving crop window.
//
// Each Update narrows the raw signal in a fixed order: prediction, safe-zone
// gating, speed limiting, then temporal smoothing. Every stage clamps, so no
// input can move the window outside the source frame.
package tracker

import (
	"image"
	"math"

	"github.com/kikiluvv/reframer/internal/detect"
	"gonum.org/v1/gonum/stat"
)

// fallbackFPS is used when a caller passes a non-positive frame rate.
const fallbackFPS = 30.0

// CropWindow is the rectangle of the source frame to extract.
type CropWindow struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Rect returns the window as an image.Rectangle.
func (w CropWindow) Rect() image.Rectangle {
	return image.Rect(w.X, w.Y, w.X+w.Width, w.Y+w.Height)
}

// Geometry describes the source frame and the fixed crop size for a run.
type Geometry struct {
	SourceWidth  int
	SourceHeight int
	CropWidth    int
	CropHeight   int
}

func (g Geometry) normalized() Geometry {
	if g.SourceWidth < 1 {
		g.SourceWidth = 1
	}
	if g.SourceHeight < 1 {
		g.SourceHeight = 1
	}
	g.CropWidth = clampInt(g.CropWidth, 1, g.SourceWidth)
	g.CropHeight = clampInt(g.CropHeight, 1, g.SourceHeight)
	return g
}

// MaxX is the largest valid crop x.
func (g Geometry) MaxX() int { return g.SourceWidth - g.CropWidth }

// CropY is the fixed vertical offset; the window is centred vertically.
func (g Geometry) CropY() int { return (g.SourceHeight - g.CropHeight) / 2 }

// sample is one subject position in the prediction history.
type sample struct {
	frame int
	x     float64
}

// Tracker holds the mutable state of one retargeting run. It is not safe for
// concurrent use; each run owns exactly one.
type Tracker struct {
	cfg  Config
	geom Geometry

	hasFix  bool
	current float64 // smoothed crop x, sub-pixel
	last    CropWindow

	positions *ring[sample]
	smoothing *ring[float64]
}

// New creates a tracker for one run. Invalid config values are coerced rather
// than rejected; use Config.Validate for user input.
func New(cfg Config, geom Geometry) *Tracker {
	cfg = cfg.normalized()
	geom = geom.normalized()
	t := &Tracker{
		cfg:       cfg,
		geom:      geom,
		smoothing: newRing[float64](cfg.SmoothingWindowSize),
	}
	t.last = t.centered()
	return t
}

// Config returns the normalized configuration in use.
func (t *Tracker) Config() Config { return t.cfg }

// Current returns the last window produced and whether the subject has been
// fixed at least once.
func (t *Tracker) Current() (CropWindow, bool) { return t.last, t.hasFix }

// Update advances the tracker with the detection for frameIndex (nil when no
// subject was found) and returns the crop window for that frame.
func (t *Tracker) Update(det *detect.Detection, frameIndex int, fps float64) CropWindow {
	if math.IsNaN(fps) || math.IsInf(fps, 0) || fps <= 0 {
		fps = fallbackFPS
	}

	if det == nil {
		if !t.hasFix {
			return t.centered()
		}
		// Coast on the last known position through occlusions.
		return t.last
	}

	centerX := float64(det.CenterX())
	cropW := float64(t.geom.CropWidth)

	if !t.hasFix {
		x := t.clamp(math.Floor(centerX - cropW/2))
		t.positions = newRing[sample](lookaheadFrames(t.cfg.PredictionLookaheadSeconds, fps))
		t.positions.push(sample{frame: frameIndex, x: centerX})
		t.smoothing.push(x)
		t.hasFix = true
		t.commit(x)
		return t.last
	}

	t.recordPosition(frameIndex, centerX, fps)

	cur := t.current
	margin := cropW * t.cfg.SafeZoneMargin
	safeLeft, safeRight := cur+margin, cur+cropW-margin
	maxDelta := t.cfg.MaxPanSpeed / fps

	var x float64
	if t.cfg.Strategy == Centered {
		x = t.clamp(math.Floor(centerX - cropW/2))
	} else {
		drive := centerX
		if predicted, ok := t.predict(centerX, frameIndex, fps); ok {
			if predicted < safeLeft || predicted > safeRight {
				drive = predicted
			}
		}

		switch {
		case drive < safeLeft:
			x = drive - margin
		case drive > safeRight:
			x = drive - cropW + margin
		default:
			x = cur
		}
		x = t.clamp(x)
		x = limit(x, cur, maxDelta)
	}

	t.smoothing.push(x)
	smoothed := t.clamp(stat.Mean(t.smoothing.values(), nil))
	if t.cfg.Strategy != Centered {
		smoothed = limit(smoothed, cur, maxDelta)
	}

	t.commit(smoothed)
	return t.last
}

// recordPosition appends to the prediction history and evicts samples older
// than the lookahead window.
func (t *Tracker) recordPosition(frameIndex int, centerX, fps float64) {
	t.positions.push(sample{frame: frameIndex, x: centerX})
	window := lookaheadFrames(t.cfg.PredictionLookaheadSeconds, fps)
	for t.positions.len() > 2 && frameIndex-t.positions.at(0).frame > window {
		t.positions.dropOldest()
	}
}

// predict extrapolates the subject position lookahead seconds ahead from the
// velocity across the history window.
func (t *Tracker) predict(centerX float64, frameIndex int, fps float64) (float64, bool) {
	if !t.cfg.PredictionEnabled || t.positions == nil {
		return 0, false
	}
	need := t.cfg.PredictionMinSamples
	if c := t.positions.capacity(); c < need {
		need = c
	}
	if t.positions.len() < need {
		return 0, false
	}

	oldest := t.positions.at(0)
	elapsed := float64(frameIndex-oldest.frame) / fps
	if elapsed <= 0 {
		return 0, false
	}
	velocity := (centerX - oldest.x) / elapsed
	return centerX + velocity*t.cfg.PredictionLookaheadSeconds, true
}

func (t *Tracker) commit(x float64) {
	t.current = x
	t.last = CropWindow{
		X:      clampInt(int(math.Round(x)), 0, t.geom.MaxX()),
		Y:      t.geom.CropY(),
		Width:  t.geom.CropWidth,
		Height: t.geom.CropHeight,
	}
}

// centered is the static fallback window used before the first fix.
func (t *Tracker) centered() CropWindow {
	return CropWindow{
		X:      t.geom.MaxX() / 2,
		Y:      t.geom.CropY(),
		Width:  t.geom.CropWidth,
		Height: t.geom.CropHeight,
	}
}

func (t *Tracker) clamp(x float64) float64 {
	if math.IsNaN(x) {
		return t.current
	}
	return math.Max(0, math.Min(x, float64(t.geom.MaxX())))
}

// limit moves from toward x by at most maxDelta.
func limit(x, from, maxDelta float64) float64 {
	delta := x - from
	if math.Abs(delta) <= maxDelta {
		return x
	}
	return from + math.Copysign(maxDelta, delta)
}

// lookaheadFrames converts the lookahead window to frames, never below 2.
func lookaheadFrames(seconds, fps float64) int {
	n := int(math.Ceil(seconds * fps))
	if n < 2 {
		n = 2
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
