package ffmpeg

import (
	"context"
	"fmt"

	"github.com/kikiluvv/reframer/pkg/util"
)

// RenderStaticCrop renders a fixed crop of a time range in one ffmpeg pass,
// with no per-frame tracking. It is the cheap path used when tracking is
// unwanted or has failed.
func (e *Executor) RenderStaticCrop(ctx context.Context, opts StaticCropOptions) error {
	if err := validateStaticCrop(opts); err != nil {
		return fmt.Errorf("invalid render options: %w", err)
	}

	e.logger.Info().
		Str("input", opts.Input).
		Str("output", opts.Output).
		Int("crop_width", opts.CropWidth).
		Int("crop_height", opts.CropHeight).
		Int("x", opts.X).
		Msg("starting static crop render")

	var args []string
	if opts.Start > 0 {
		args = append(args, "-ss", util.FormatDuration(opts.Start))
	}
	args = append(args, "-i", opts.Input)
	if opts.Duration > 0 {
		args = append(args, "-t", util.FormatDuration(opts.Duration))
	}

	filter := NewFilterBuilder().
		Crop(opts.CropWidth, opts.CropHeight, opts.X, opts.Y)
	if opts.Width != opts.CropWidth || opts.Height != opts.CropHeight {
		filter.Scale(opts.Width, opts.Height)
	}
	filter.Format(DefaultPixFmt)
	args = append(args, "-vf", filter.Build(), "-an")

	profile := opts.Profile
	if len(profile.Args) == 0 {
		profile = DefaultProfiles(DefaultPreset, DefaultCRF)[0]
	}
	args = append(args, profile.Args...)
	args = append(args, opts.Output)

	runOpts := RunOptions{
		Args:            args,
		ProgressHandler: opts.ProgressFunc,
		LogHandler: func(line string) {
			e.logger.Debug().Str("ffmpeg", line).Msg("render output")
		},
	}

	if err := e.Run(ctx, runOpts); err != nil {
		return fmt.Errorf("static crop render failed: %w", err)
	}

	e.logger.Info().Str("output", opts.Output).Msg("static crop render completed")
	return nil
}

func validateStaticCrop(opts StaticCropOptions) error {
	if opts.Input == "" {
		return fmt.Errorf("input path is required")
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if opts.CropWidth <= 0 || opts.CropHeight <= 0 {
		return fmt.Errorf("crop size must be positive, got %dx%d", opts.CropWidth, opts.CropHeight)
	}
	if opts.X < 0 || opts.Y < 0 {
		return fmt.Errorf("crop offset cannot be negative")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("output size must be positive, got %dx%d", opts.Width, opts.Height)
	}
	if opts.Duration < 0 {
		return fmt.Errorf("duration cannot be negative")
	}
	return nil
}
