package main

import (
	"fmt"

	"github.com/kikiluvv/reframer/internal/clips"
	"github.com/kikiluvv/reframer/internal/config"
	"github.com/kikiluvv/reframer/internal/tracker"
	"github.com/kikiluvv/reframer/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// retargetOptions holds the retarget flags. Only flags the user set
// override the loaded config.
type retargetOptions struct {
	start          string
	end            string
	output         string
	aspect         string
	width          int
	height         int
	sampleRate     int
	strategy       string
	maxPanSpeed    float64
	noPrediction   bool
	backend        string
	model          string
	keepPartial    bool
	fallbackStatic bool
}

var retargetOpts retargetOptions

var retargetCmd = &cobra.Command{
	Use:   "retarget [input video]",
	Short: "Crop a time range to a new aspect, following the subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *config.FromContext(cmd.Context())
		if err := applyRetargetFlags(cmd, &cfg); err != nil {
			return err
		}

		eng, err := newEngine(&cfg)
		if err != nil {
			return err
		}

		clip, err := retargetClip(cmd, eng, args[0])
		if err != nil {
			return err
		}

		progress, finish := newFrameProgress("Retargeting")
		res, err := eng.render(cmd.Context(), clip, progress)
		finish()
		if err != nil {
			return err
		}

		log.Info().
			Str("output", res.OutputPath).
			Int("frames", res.Frames).
			Int("width", res.Width).
			Int("height", res.Height).
			Str("profile", res.Profile).
			Dur("elapsed", res.Elapsed).
			Msg("retarget complete")
		return nil
	},
}

func init() {
	f := retargetCmd.Flags()
	f.StringVar(&retargetOpts.start, "start", "0", "range start (HH:MM:SS.mmm or seconds)")
	f.StringVar(&retargetOpts.end, "end", "", "range end (default: end of source)")
	f.StringVarP(&retargetOpts.output, "output", "o", "", "output file (default: <input>_<aspect>.mp4)")
	f.StringVarP(&retargetOpts.aspect, "aspect", "a", "", "target aspect: portrait, square, landscape, original or W:H")
	f.IntVar(&retargetOpts.width, "width", 0, "output width")
	f.IntVar(&retargetOpts.height, "height", 0, "output height")
	f.IntVar(&retargetOpts.sampleRate, "sample-rate", 0, "run detection on every Nth frame")
	f.StringVar(&retargetOpts.strategy, "strategy", "", "tracking strategy: keep_in_frame or centered")
	f.Float64Var(&retargetOpts.maxPanSpeed, "max-pan-speed", 0, "crop speed limit in pixels per second (0 = unlimited)")
	f.BoolVar(&retargetOpts.noPrediction, "no-prediction", false, "disable motion prediction")
	f.StringVar(&retargetOpts.backend, "detector", "", "detector backend: onnx, worker or none")
	f.StringVar(&retargetOpts.model, "model", "", "ONNX face model path")
	f.BoolVar(&retargetOpts.keepPartial, "keep-partial", false, "keep the encoded prefix when the source fails mid-range")
	f.BoolVar(&retargetOpts.fallbackStatic, "fallback-static", false, "render a centered static crop if tracking fails")
}

// applyRetargetFlags copies explicitly set flags over cfg and revalidates it.
func applyRetargetFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	o := retargetOpts

	if f.Changed("aspect") {
		cfg.Output.Aspect = o.aspect
	}
	if f.Changed("width") {
		cfg.Output.Width = o.width
	}
	if f.Changed("height") {
		cfg.Output.Height = o.height
	}
	if f.Changed("sample-rate") {
		cfg.Tracker.SampleRate = o.sampleRate
	}
	if f.Changed("strategy") {
		s, err := tracker.ParseStrategy(o.strategy)
		if err != nil {
			return err
		}
		cfg.Tracker.Strategy = s
	}
	if f.Changed("max-pan-speed") {
		cfg.Tracker.MaxPanSpeed = o.maxPanSpeed
	}
	if f.Changed("no-prediction") {
		cfg.Tracker.PredictionEnabled = !o.noPrediction
	}
	if f.Changed("detector") {
		cfg.Detector.Backend = o.backend
	}
	if f.Changed("model") {
		cfg.Detector.ModelPath = o.model
	}
	if f.Changed("keep-partial") {
		cfg.Output.KeepPartial = o.keepPartial
	}
	if f.Changed("fallback-static") {
		cfg.Output.FallbackStatic = o.fallbackStatic
	}
	return cfg.Validate()
}

// retargetClip turns the positional input and range flags into a clip,
// probing the source when no end was given.
func retargetClip(cmd *cobra.Command, eng *engine, input string) (*clips.Clip, error) {
	start, err := util.ParseTimestamp(retargetOpts.start)
	if err != nil {
		return nil, fmt.Errorf("--start: %w", err)
	}

	var end = start
	if retargetOpts.end != "" {
		if end, err = util.ParseTimestamp(retargetOpts.end); err != nil {
			return nil, fmt.Errorf("--end: %w", err)
		}
	} else {
		info, err := eng.exec.ProbeVideo(cmd.Context(), input)
		if err != nil {
			return nil, err
		}
		end = info.Duration
	}

	output := retargetOpts.output
	if output == "" {
		output = defaultOutputPath(input, eng.cfg.Output.Aspect)
	}

	clip := &clips.Clip{
		ID:     "cli",
		Source: input,
		Start:  start,
		End:    end,
		Aspect: eng.cfg.Output.Aspect,
		Output: output,
	}
	if err := clip.Validate(); err != nil {
		return nil, err
	}
	return clip, nil
}
