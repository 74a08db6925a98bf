package detect

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/kikiluvv/reframer/pkg/util"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	defaultInputWidth  = 320
	defaultInputHeight = 240
	defaultNMSIoU      = 0.3
	// prefilter drops anchors that could never pass any sensible threshold
	// before NMS, which otherwise sees thousands of candidates.
	prefilter = 0.2
)

// The onnxruntime environment is process global. Detectors share it and the
// last one to close tears it down.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs > 0 {
		return nil
	}
	envRefs = 0
	return ort.DestroyEnvironment()
}

// ONNXDetector runs an UltraFace style face detector (RFB-320 and friends).
// The model takes a [1,3,H,W] image normalised to (p-127)/128 and returns
// per-anchor "scores" [1,N,2] and normalised corner "boxes" [1,N,4].
type ONNXDetector struct {
	logger  zerolog.Logger
	width   int
	height  int
	anchors int
	iou     float64

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	input   []float32
}

// NewONNXDetector loads the model at modelPath.
func NewONNXDetector(logger zerolog.Logger, cfg Config) (*ONNXDetector, error) {
	if !util.FileExists(cfg.ModelPath) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	width, height := cfg.InputWidth, cfg.InputHeight
	if width <= 0 || height <= 0 {
		width, height = defaultInputWidth, defaultInputHeight
	}
	iou := cfg.NMSThreshold
	if iou <= 0 || iou >= 1 {
		iou = defaultNMSIoU
	}

	if err := acquireEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	inputNames := []string{"input"}
	outputNames := []string{"scores", "boxes"}
	sess, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, inputNames, outputNames, nil)
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create detector session: %w", err)
	}

	d := &ONNXDetector{
		logger:  logger.With().Str("backend", "onnx").Logger(),
		width:   width,
		height:  height,
		anchors: ultraFaceAnchors(width, height),
		iou:     iou,
		session: sess,
		input:   make([]float32, 3*width*height),
	}

	d.logger.Info().
		Str("model", cfg.ModelPath).
		Int("input_width", width).
		Int("input_height", height).
		Int("anchors", d.anchors).
		Msg("face detector loaded")

	return d, nil
}

// Detect runs one inference pass. Boxes are returned in frame pixels.
func (d *ONNXDetector) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil, fmt.Errorf("detector is closed")
	}

	d.preprocess(frame)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(d.height), int64(d.width)), d.input)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	scores, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(d.anchors), 2))
	if err != nil {
		return nil, fmt.Errorf("failed to create scores tensor: %w", err)
	}
	defer scores.Destroy()

	boxes, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(d.anchors), 4))
	if err != nil {
		return nil, fmt.Errorf("failed to create boxes tensor: %w", err)
	}
	defer boxes.Destroy()

	inputs := []ort.ArbitraryTensor{input}
	outputs := []ort.ArbitraryTensor{scores, boxes}
	if err := d.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("face detector inference failed: %w", err)
	}

	b := frame.Bounds()
	dets := decodeUltraFace(scores.GetData(), boxes.GetData(), b.Dx(), b.Dy(), prefilter)
	return NonMaxSuppression(dets, d.iou), nil
}

// preprocess fills the CHW input buffer from frame.
func (d *ONNXDetector) preprocess(frame image.Image) {
	resized := resize.Resize(uint(d.width), uint(d.height), frame, resize.Bilinear)
	bounds := resized.Bounds()
	plane := d.width * d.height

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			d.input[i] = (float32(r>>8) - 127) / 128
			d.input[plane+i] = (float32(g>>8) - 127) / 128
			d.input[2*plane+i] = (float32(b>>8) - 127) / 128
			i++
		}
	}
}

// Close releases the session and, if this was the last detector, the runtime.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	d.logger.Info().Msg("closing face detector session")
	err := d.session.Destroy()
	d.session = nil
	if envErr := releaseEnvironment(); err == nil {
		err = envErr
	}
	return err
}

// decodeUltraFace converts raw model outputs into pixel-space detections for a
// frameW x frameH frame, dropping anchors whose face score is below minScore.
func decodeUltraFace(scores, boxes []float32, frameW, frameH int, minScore float64) []Detection {
	n := len(scores) / 2
	if m := len(boxes) / 4; m < n {
		n = m
	}

	var dets []Detection
	for i := 0; i < n; i++ {
		score := float64(scores[i*2+1])
		if score < minScore {
			continue
		}
		x1 := clampUnit(boxes[i*4]) * float64(frameW)
		y1 := clampUnit(boxes[i*4+1]) * float64(frameH)
		x2 := clampUnit(boxes[i*4+2]) * float64(frameW)
		y2 := clampUnit(boxes[i*4+3]) * float64(frameH)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		dets = append(dets, Detection{
			X:          int(math.Round(x1)),
			Y:          int(math.Round(y1)),
			Width:      int(math.Round(x2 - x1)),
			Height:     int(math.Round(y2 - y1)),
			Confidence: score,
		})
	}
	return dets
}

func clampUnit(v float32) float64 {
	return math.Max(0, math.Min(1, float64(v)))
}

// ultraFaceAnchors returns the prior box count the UltraFace head produces for
// an input of the given size.
func ultraFaceAnchors(width, height int) int {
	strides := []int{8, 16, 32, 64}
	perCell := []int{3, 2, 2, 3}
	total := 0
	for i, s := range strides {
		fw := int(math.Ceil(float64(width) / float64(s)))
		fh := int(math.Ceil(float64(height) / float64(s)))
		total += fw * fh * perCell[i]
	}
	return total
}
