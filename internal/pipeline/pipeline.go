package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/kikiluvv/reframer/internal/detect"
	"github.com/kikiluvv/reframer/internal/ffmpeg"
	"github.com/kikiluvv/reframer/internal/logging"
	"github.com/kikiluvv/reframer/internal/tracker"
	"github.com/kikiluvv/reframer/pkg/util"
	"github.com/rs/zerolog"
)

// Pipeline turns wide source ranges into subject-tracked crops.
// A Pipeline may serve concurrent Retarget calls; each run owns its
// detector, tracker and encoder.
type Pipeline struct {
	logger    zerolog.Logger
	config    Config
	media     Media
	detectors DetectorFactory
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, cfg Config, media Media, detectors DetectorFactory) *Pipeline {
	if detectors == nil {
		detectors = func() (detect.Detector, error) { return detect.StaticDetector{}, nil }
	}
	return &Pipeline{
		logger:    logger.With().Str("component", "pipeline").Logger(),
		config:    cfg,
		media:     media,
		detectors: detectors,
	}
}

// run is the state of one Retarget call.
type run struct {
	*Pipeline
	req    Request
	logger zerolog.Logger
	result *Result
}

func (r *run) fail(kind error, frame int, err error) *Error {
	return &Error{
		Kind:   kind,
		Source: r.req.Source,
		Start:  r.req.Start,
		End:    r.req.End,
		Frame:  frame,
		Err:    err,
	}
}

// Retarget renders req.Source between req.Start and req.End into req.Output,
// cropped to req.Aspect around the tracked subject. The output is written to
// a temporary sibling and moved into place only when the encoder exits
// cleanly. Every returned error is an *Error.
func (p *Pipeline) Retarget(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	runID := uuid.NewString()
	r := &run{
		Pipeline: p,
		req:      req,
		logger: logging.WithRun(p.logger, runID).With().
			Str("source", req.Source).
			Dur("start", req.Start).
			Dur("end", req.End).
			Logger(),
		result: &Result{RunID: runID, OutputPath: req.Output},
	}

	if r.req.Tracker == (tracker.Config{}) {
		r.req.Tracker = tracker.DefaultConfig()
	}
	aspect, err := r.validate()
	if err != nil {
		return nil, err
	}

	info, err := p.media.Probe(ctx, req.Source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.fail(ErrCanceled, -1, ctx.Err())
		}
		return nil, r.fail(ErrSourceRead, -1, err)
	}
	if info.Duration > 0 && req.Start >= info.Duration {
		return nil, r.fail(ErrInvalidRequest, -1,
			fmt.Errorf("start %s is beyond the source duration %s", req.Start, info.Duration))
	}

	fps := info.FPS
	if fps <= 0 {
		fps = 30
		r.logger.Warn().Msg("source frame rate unknown, assuming 30 fps")
	}

	cropW, cropH := aspect.CropSize(info.Width, info.Height)
	outW, outH := OutputSize(cropW, cropH, req.OutputWidth, req.OutputHeight)
	r.result.Width, r.result.Height = outW, outH
	r.result.CropWidth, r.result.CropHeight = cropW, cropH
	r.result.FPS = fps

	r.logger.Info().
		Str("aspect", aspect.String()).
		Int("source_width", info.Width).
		Int("source_height", info.Height).
		Int("crop_width", cropW).
		Int("crop_height", cropH).
		Int("output_width", outW).
		Int("output_height", outH).
		Float64("fps", fps).
		Msg("starting retarget")

	backend, err := p.detectors()
	if err != nil {
		return nil, r.fail(ErrDetectorUnavailable, -1, err)
	}
	adapter := detect.NewAdapter(r.logger, backend, r.req.Tracker.DetectionConfidenceThreshold)
	defer func() {
		if err := adapter.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("closing detector failed")
		}
	}()

	reader, err := p.media.OpenReader(ctx, ffmpeg.DecoderOptions{
		Input:    req.Source,
		Start:    req.Start,
		Duration: req.End - req.Start,
		Width:    info.Width,
		Height:   info.Height,
	})
	if err != nil {
		return nil, r.fail(ErrSourceRead, -1, err)
	}
	defer reader.Close()

	if err := util.EnsureDir(filepath.Dir(req.Output)); err != nil {
		return nil, r.fail(ErrOutput, -1, err)
	}
	tmp := util.PartialPath(req.Output)
	writer, err := p.media.OpenWriter(ctx, ffmpeg.EncoderOptions{
		Output:       tmp,
		Width:        outW,
		Height:       outH,
		FPS:          fps,
		Profiles:     p.config.Profiles,
		CloseTimeout: p.config.CloseTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.fail(ErrCanceled, -1, ctx.Err())
		}
		return nil, r.fail(ErrEncoderNegotiation, -1, err)
	}
	r.result.Profile = writer.Profile().Name

	trk := tracker.New(r.req.Tracker, tracker.Geometry{
		SourceWidth:  info.Width,
		SourceHeight: info.Height,
		CropWidth:    cropW,
		CropHeight:   cropH,
	})

	total := util.FrameCount(req.End-req.Start, fps)
	if err := r.process(ctx, reader, writer, adapter, trk, fps, total); err != nil {
		r.discard(writer, tmp, err)
		return nil, err
	}

	if err := writer.Close(); err != nil {
		util.CleanupFiles(tmp)
		return nil, r.fail(ErrEncoderShutdown, r.result.Frames, err)
	}
	if err := os.Rename(tmp, req.Output); err != nil {
		util.CleanupFiles(tmp)
		return nil, r.fail(ErrOutput, -1, err)
	}

	r.result.Elapsed = time.Since(started)
	r.logger.Info().
		Str("output", req.Output).
		Int("frames", r.result.Frames).
		Int("sampled", r.result.Sampled).
		Int("detected", r.result.Detected).
		Int("detection_failures", r.result.DetectionFailures).
		Str("profile", r.result.Profile).
		Dur("elapsed", r.result.Elapsed).
		Msg("retarget complete")

	return r.result, nil
}

func (r *run) validate() (Aspect, error) {
	req := r.req
	var problems []error
	if req.Source == "" {
		problems = append(problems, errors.New("source path is required"))
	}
	if req.Output == "" {
		problems = append(problems, errors.New("output path is required"))
	}
	if req.Start < 0 {
		problems = append(problems, fmt.Errorf("start cannot be negative, got %s", req.Start))
	}
	if req.End <= req.Start {
		problems = append(problems, fmt.Errorf("end %s must be after start %s", req.End, req.Start))
	}
	if req.Source != "" && req.Output != "" && util.SamePath(req.Source, req.Output) {
		problems = append(problems, errors.New("output would overwrite the source"))
	}
	if err := req.Tracker.Validate(); err != nil {
		problems = append(problems, err)
	}
	aspect, err := ParseAspect(req.Aspect)
	if err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return Aspect{}, r.fail(ErrInvalidRequest, -1, errors.Join(problems...))
	}
	return aspect, nil
}

// process runs the per-frame loop: decode, sample detection, track, crop,
// encode. It stops at the end of the source range.
func (r *run) process(ctx context.Context, reader FrameReader, writer FrameWriter, adapter *detect.Adapter, trk *tracker.Tracker, fps float64, total int) error {
	sampleRate := trk.Config().SampleRate
	window, _ := trk.Current()
	outW, outH := r.result.Width, r.result.Height

	for i := 0; total <= 0 || i < total; i++ {
		if err := ctx.Err(); err != nil {
			return r.fail(ErrCanceled, i, err)
		}

		frame, err := reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(ErrCanceled, i, ctx.Err())
			}
			return r.fail(ErrSourceRead, i, err)
		}

		if i%sampleRate == 0 {
			r.result.Sampled++
			det, err := adapter.DetectSubject(ctx, frame)
			if err != nil {
				if ctx.Err() != nil {
					return r.fail(ErrCanceled, i, ctx.Err())
				}
				r.result.DetectionFailures++
				r.logger.Debug().Err(err).Int("frame", i).Msg("detection failed, treating as no subject")
				det = nil
			}
			if det != nil {
				r.result.Detected++
			}
			window = trk.Update(det, i, fps)
		}

		out := extract(frame, window, outW, outH)
		if err := writer.WriteFrame(out); err != nil {
			if ctx.Err() != nil {
				return r.fail(ErrCanceled, i, ctx.Err())
			}
			return r.fail(ErrEncoderWrite, i, err)
		}

		r.result.Frames++
		if r.req.Trace {
			r.result.Windows = append(r.result.Windows, window)
		}
		if r.req.Progress != nil {
			r.req.Progress(r.result.Frames, total)
		}
	}

	if r.result.Frames == 0 {
		return r.fail(ErrSourceRead, 0, errors.New("no frames decoded in range"))
	}
	return nil
}

// extract cuts the crop window out of frame and scales it to the output size.
// When the output only drops the odd column or row of the window, that edge
// is trimmed instead of resampling the frame.
func extract(frame *image.RGBA, window tracker.CropWindow, outW, outH int) image.Image {
	rect := window.Rect()
	if dw, dh := rect.Dx()-outW, rect.Dy()-outH; dw >= 0 && dw <= 1 && dh >= 0 && dh <= 1 {
		rect.Max = rect.Min.Add(image.Pt(outW, outH))
	}
	crop := imaging.Crop(frame, rect)
	if crop.Bounds().Dx() == outW && crop.Bounds().Dy() == outH {
		return crop
	}
	return imaging.Resize(crop, outW, outH, imaging.Lanczos)
}

// discard disposes of a failed run's output. Source failures with
// KeepPartial flush what was encoded and keep it; everything else is
// aborted and removed.
func (r *run) discard(writer FrameWriter, tmp string, cause error) {
	keep := r.req.KeepPartial && r.result.Frames > 0 && errors.Is(cause, ErrSourceRead)
	if keep {
		if err := writer.Close(); err == nil {
			if err := os.Rename(tmp, r.req.Output); err == nil {
				r.logger.Warn().
					Err(cause).
					Int("frames", r.result.Frames).
					Str("output", r.req.Output).
					Msg("kept partial output")
				return
			}
		}
		util.CleanupFiles(tmp)
		return
	}

	writer.Abort()
	util.CleanupFiles(tmp)
	r.logger.Error().Err(cause).Int("frames", r.result.Frames).Msg("retarget failed, output removed")
}
