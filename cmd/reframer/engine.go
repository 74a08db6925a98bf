package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kikiluvv/reframer/internal/clips"
	"github.com/kikiluvv/reframer/internal/config"
	"github.com/kikiluvv/reframer/internal/detect"
	"github.com/kikiluvv/reframer/internal/ffmpeg"
	"github.com/kikiluvv/reframer/internal/pipeline"
	"github.com/kikiluvv/reframer/pkg/util"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// engine bundles the pieces every command needs to render clips.
type engine struct {
	cfg  *config.Config
	exec *ffmpeg.Executor
	pipe *pipeline.Pipeline
}

func newEngine(cfg *config.Config) (*engine, error) {
	exec, err := ffmpeg.New(log.Logger, cfg.ExecutorOptions())
	if err != nil {
		return nil, err
	}

	detectorCfg := cfg.Detector
	factory := func() (detect.Detector, error) {
		return detect.New(log.Logger, detectorCfg)
	}

	return &engine{
		cfg:  cfg,
		exec: exec,
		pipe: pipeline.New(log.Logger, cfg.PipelineConfig(), pipeline.NewMedia(exec), factory),
	}, nil
}

func (e *engine) request(c *clips.Clip) pipeline.Request {
	aspect := c.Aspect
	if aspect == "" {
		aspect = e.cfg.Output.Aspect
	}
	return pipeline.Request{
		Source:       c.Source,
		Start:        c.Start,
		End:          c.End,
		Aspect:       aspect,
		Tracker:      e.cfg.Tracker,
		Output:       c.Output,
		OutputWidth:  e.cfg.Output.Width,
		OutputHeight: e.cfg.Output.Height,
		KeepPartial:  e.cfg.Output.KeepPartial,
	}
}

// render retargets one clip. With output.fallback_static set, a failed
// tracked run is retried as a centered static crop.
func (e *engine) render(ctx context.Context, c *clips.Clip, progress func(done, total int)) (*pipeline.Result, error) {
	req := e.request(c)
	req.Progress = progress

	res, err := e.pipe.Retarget(ctx, req)
	if err == nil || !e.cfg.Output.FallbackStatic || !shouldFallback(err) {
		return res, err
	}

	log.Warn().Err(err).Str("clip", c.ID).Msg("tracked render failed, falling back to static crop")
	if ferr := e.renderStatic(ctx, req); ferr != nil {
		return nil, errors.Join(err, fmt.Errorf("static fallback: %w", ferr))
	}
	return &pipeline.Result{OutputPath: req.Output, Profile: staticProfile}, nil
}

const staticProfile = "static"

// shouldFallback reports whether a failed run is worth retrying statically.
func shouldFallback(err error) bool {
	return !errors.Is(err, pipeline.ErrCanceled) && !errors.Is(err, pipeline.ErrInvalidRequest)
}

func (e *engine) renderStatic(ctx context.Context, req pipeline.Request) error {
	info, err := e.exec.ProbeVideo(ctx, req.Source)
	if err != nil {
		return err
	}
	aspect, err := pipeline.ParseAspect(req.Aspect)
	if err != nil {
		return err
	}
	cropW, cropH := aspect.CropSize(info.Width, info.Height)
	outW, outH := pipeline.OutputSize(cropW, cropH, req.OutputWidth, req.OutputHeight)

	var profile ffmpeg.Profile
	if profiles := e.cfg.Profiles(); len(profiles) > 0 {
		profile = profiles[0]
	}

	tmp := util.PartialPath(req.Output)
	err = e.exec.RenderStaticCrop(ctx, ffmpeg.StaticCropOptions{
		Input:      req.Source,
		Output:     tmp,
		Start:      req.Start,
		Duration:   req.End - req.Start,
		CropWidth:  cropW,
		CropHeight: cropH,
		X:          (info.Width - cropW) / 2,
		Y:          (info.Height - cropH) / 2,
		Width:      outW,
		Height:     outH,
		Profile:    profile,
	})
	if err != nil {
		util.CleanupFiles(tmp)
		return err
	}
	if err := os.Rename(tmp, req.Output); err != nil {
		util.CleanupFiles(tmp)
		return err
	}
	return nil
}

// defaultOutputPath names the output after the source and aspect, next to
// the source.
func defaultOutputPath(source, aspect string) string {
	if aspect == "" {
		aspect = "portrait"
	}
	tag := strings.NewReplacer(":", "x", "/", "x", " ", "").Replace(strings.ToLower(aspect))
	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(filepath.Dir(source), fmt.Sprintf("%s_%s.mp4", stem, tag))
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// newFrameProgress returns a Request.Progress callback drawing a bar on
// stderr, and a func to finish it. Off a terminal the callback is nil.
func newFrameProgress(description string) (func(done, total int), func()) {
	if !stderrIsTerminal() {
		return nil, func() {}
	}

	var bar *progressbar.ProgressBar
	update := func(done, total int) {
		if bar == nil {
			if total <= 0 {
				total = -1
			}
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionThrottle(100*time.Millisecond),
			)
		}
		_ = bar.Set(done)
	}
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
	}
	return update, finish
}
