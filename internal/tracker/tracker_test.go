package tracker

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kikiluvv/reframer/internal/detect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// portrait1080p is a 1920x1080 source cropped to 9:16.
var portrait1080p = Geometry{SourceWidth: 1920, SourceHeight: 1080, CropWidth: 607, CropHeight: 1080}

// at builds a 100px wide detection centred on cx.
func at(cx int) *detect.Detection {
	return &detect.Detection{X: cx - 50, Y: 400, Width: 100, Height: 120, Confidence: 0.9}
}

func run(t *testing.T, tr *Tracker, dets []*detect.Detection, fps float64) []CropWindow {
	t.Helper()
	out := make([]CropWindow, len(dets))
	for i, d := range dets {
		out[i] = tr.Update(d, i, fps)
	}
	return out
}

func TestUpdateBeforeFirstFixReturnsCentered(t *testing.T) {
	tr := New(DefaultConfig(), portrait1080p)

	w := tr.Update(nil, 0, 30)
	assert.Equal(t, CropWindow{X: 656, Y: 0, Width: 607, Height: 1080}, w)

	_, fixed := tr.Current()
	assert.False(t, fixed, "centred fallback must not count as a fix")

	// The first real fix is not speed limited against the fallback.
	w = tr.Update(at(200), 1, 30)
	assert.Equal(t, 0, w.X)
}

func TestFirstFixCentersOnSubject(t *testing.T) {
	tests := []struct {
		name string
		cx   int
		want int
	}{
		{"middle", 960, 656},
		{"left edge clamps", 10, 0},
		{"right edge clamps", 1900, 1313},
		{"outside frame left", -500, 0},
		{"outside frame right", 5000, 1313},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(DefaultConfig(), portrait1080p)
			w := tr.Update(at(tt.cx), 0, 30)
			assert.Equal(t, tt.want, w.X)
			assert.Equal(t, 607, w.Width)
			assert.Equal(t, 1080, w.Height)
		})
	}
}

func TestClampInvariant(t *testing.T) {
	strategies := []Strategy{KeepInFrame, Centered}
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Strategy = s
			cfg.MaxPanSpeed = 0 // unlimited, so the clamp is the only guard
			tr := New(cfg, portrait1080p)

			rng := rand.New(rand.NewSource(7))
			for i := 0; i < 2000; i++ {
				var d *detect.Detection
				if rng.Intn(5) > 0 {
					d = &detect.Detection{
						X:      rng.Intn(12000) - 6000,
						Width:  rng.Intn(400) - 50,
						Height: 100,
					}
				}
				w := tr.Update(d, i, 30)
				require.GreaterOrEqual(t, w.X, 0, "frame %d", i)
				require.LessOrEqual(t, w.X, 1920-607, "frame %d", i)
			}
		})
	}
}

func TestCoastInvariant(t *testing.T) {
	tr := New(DefaultConfig(), portrait1080p)
	for i := 0; i < 10; i++ {
		tr.Update(at(700+i*40), i, 30)
	}
	prev, _ := tr.Current()

	for i := 10; i <= 40; i++ {
		w := tr.Update(nil, i, 30)
		require.Equal(t, prev, w, "frame %d", i)
	}
}

func TestSpeedLimitInvariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PredictionEnabled = false
	cfg.SmoothingWindowSize = 1
	tr := New(cfg, portrait1080p)

	maxDelta := int(math.Ceil(cfg.MaxPanSpeed / 30))
	dets := make([]*detect.Detection, 120)
	dets[0] = at(300)
	for i := 1; i < len(dets); i++ {
		// Jump between the two sides of the frame.
		if (i/20)%2 == 0 {
			dets[i] = at(1800)
		} else {
			dets[i] = at(100)
		}
	}
	windows := run(t, tr, dets, 30)

	moved := false
	for i := 1; i < len(windows); i++ {
		d := windows[i].X - windows[i-1].X
		if d < 0 {
			d = -d
		}
		if d > 0 {
			moved = true
		}
		require.LessOrEqual(t, d, maxDelta, "frame %d: %d -> %d", i, windows[i-1].X, windows[i].X)
	}
	assert.True(t, moved)
}

func TestSpeedLimitHoldsWithSmoothingAndPrediction(t *testing.T) {
	tr := New(DefaultConfig(), portrait1080p)

	rng := rand.New(rand.NewSource(42))
	prevX := -1
	for i := 0; i < 600; i++ {
		w := tr.Update(at(rng.Intn(1920)), i, 30)
		if prevX >= 0 {
			d := math.Abs(float64(w.X - prevX))
			require.LessOrEqual(t, d, 10.0, "frame %d", i)
		}
		prevX = w.X
	}
}

func TestSpeedLimitIgnoresSampleGap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PredictionEnabled = false
	cfg.SmoothingWindowSize = 1
	tr := New(cfg, portrait1080p)

	w := tr.Update(at(400), 0, 30)
	require.Equal(t, 96, w.X)

	// Unsampled frames repeat the window, so each update is one rendered step.
	for i, frame := range []int{3, 6, 9} {
		prev := w
		w = tr.Update(at(1800), frame, 30)
		assert.Equal(t, 96+10*(i+1), w.X, "frame %d", frame)
		assert.LessOrEqual(t, w.X-prev.X, 10, "frame %d", frame)
	}
}

func TestSafeZoneIdempotence(t *testing.T) {
	// Random jitter inside the zone looks like fast motion to the predictor.
	cfg := DefaultConfig()
	cfg.PredictionEnabled = false
	tr := New(cfg, portrait1080p)
	first := tr.Update(at(960), 0, 30)

	// Safe zone for x=656 is [747.05, 1171.95].
	rng := rand.New(rand.NewSource(3))
	for i := 1; i < 200; i++ {
		cx := 760 + rng.Intn(400)
		w := tr.Update(at(cx), i, 30)
		require.Equal(t, first, w, "frame %d cx %d", i, cx)
	}
}

func TestDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	dets := make([]*detect.Detection, 300)
	for i := range dets {
		if rng.Intn(4) == 0 {
			continue
		}
		dets[i] = at(rng.Intn(2200) - 100)
	}

	a := run(t, New(DefaultConfig(), portrait1080p), dets, 29.97)
	b := run(t, New(DefaultConfig(), portrait1080p), dets, 29.97)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("window sequences differ (-first +second):\n%s", diff)
	}
}

func TestCenteredStrategyFollowsSubject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = Centered
	cfg.SmoothingWindowSize = 1
	tr := New(cfg, portrait1080p)

	tr.Update(at(960), 0, 30)
	// A small move well inside the safe zone still re-centres.
	w := tr.Update(at(1000), 1, 30)
	assert.Equal(t, 696, w.X)

	// No speed limit for the centred strategy.
	w = tr.Update(at(1600), 2, 30)
	assert.Equal(t, 1296, w.X)
}

func TestZeroSizeDetectionIsValid(t *testing.T) {
	tr := New(DefaultConfig(), portrait1080p)
	w := tr.Update(&detect.Detection{X: 960}, 0, 30)
	assert.Equal(t, 656, w.X)

	_, fixed := tr.Current()
	assert.True(t, fixed)
}

func TestInvalidFPSFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PredictionEnabled = false
	cfg.SmoothingWindowSize = 1

	for _, fps := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		tr := New(cfg, portrait1080p)
		tr.Update(at(400), 0, fps)
		w := tr.Update(at(1800), 1, fps)
		assert.Equal(t, 106, w.X, "fps %v", fps)
	}
}

func TestCropWiderThanSourceIsPinned(t *testing.T) {
	tr := New(DefaultConfig(), Geometry{SourceWidth: 500, SourceHeight: 500, CropWidth: 800, CropHeight: 800})
	for i, cx := range []int{0, 250, 900} {
		w := tr.Update(at(cx), i, 30)
		assert.Equal(t, CropWindow{X: 0, Y: 0, Width: 500, Height: 500}, w)
	}
}

func TestScenarioConstantCenter(t *testing.T) {
	tr := New(DefaultConfig(), portrait1080p)
	for i := 0; i < 90; i++ {
		w := tr.Update(at(960), i, 30)
		require.Equal(t, 656, w.X, "frame %d", i)
	}
}

func TestScenarioPredictionLeadsRawExit(t *testing.T) {
	const frames = 60
	dets := make([]*detect.Detection, frames)
	for i := range dets {
		dets[i] = at(400 + 1200*i/(frames-1))
	}

	firstMove := func(ws []CropWindow) int {
		for i := 1; i < len(ws); i++ {
			if ws[i].X != ws[0].X {
				return i
			}
		}
		return -1
	}

	predictive := run(t, New(DefaultConfig(), portrait1080p), dets, 30)

	// Frame at which the raw centre first leaves the safe zone of the
	// initial crop.
	x0 := float64(predictive[0].X)
	margin := 607 * DefaultConfig().SafeZoneMargin
	rawExit := -1
	for i, d := range dets {
		if float64(d.CenterX()) > x0+607-margin {
			rawExit = i
			break
		}
	}
	require.Equal(t, 11, rawExit)

	cfg := DefaultConfig()
	cfg.PredictionEnabled = false
	reactive := run(t, New(cfg, portrait1080p), dets, 30)

	pm, rm := firstMove(predictive), firstMove(reactive)
	require.NotEqual(t, -1, pm)
	assert.Less(t, pm, rawExit, "prediction should move the crop before the subject exits")
	assert.Less(t, pm, rm)
	assert.Equal(t, rawExit, rm, "reactive tracking waits for the exit")
}

func TestScenarioOcclusionHoldsLastWindow(t *testing.T) {
	tr := New(DefaultConfig(), portrait1080p)
	var last CropWindow
	for i := 0; i <= 9; i++ {
		last = tr.Update(at(500+30*i), i, 30)
	}
	for i := 10; i <= 40; i++ {
		require.Equal(t, last, tr.Update(nil, i, 30), "frame %d", i)
	}
}

func TestPredictionWaitsForMinSamples(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PredictionMinSamples = 5
	cfg.SmoothingWindowSize = 1
	tr := New(cfg, portrait1080p)

	tr.Update(at(400), 0, 30)
	for i := 1; i < 4; i++ {
		w := tr.Update(at(400+20*i), i, 30)
		assert.Equal(t, 96, w.X, "frame %d: only %d samples", i, i+1)
	}
	w := tr.Update(at(480), 4, 30)
	assert.Greater(t, w.X, 96)
}
