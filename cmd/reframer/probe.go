package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/kikiluvv/reframer/internal/config"
	"github.com/kikiluvv/reframer/internal/ffmpeg"
	"github.com/kikiluvv/reframer/internal/pipeline"
	"github.com/kikiluvv/reframer/pkg/util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var probeAspect string

var probeCmd = &cobra.Command{
	Use:   "probe [input video]",
	Short: "Show source metadata and the crop geometry a retarget would use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		aspectName := cfg.Output.Aspect
		if cmd.Flags().Changed("aspect") {
			aspectName = probeAspect
		}
		aspect, err := pipeline.ParseAspect(aspectName)
		if err != nil {
			return err
		}

		exec, err := ffmpeg.New(log.Logger, cfg.ExecutorOptions())
		if err != nil {
			return err
		}
		info, err := exec.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), probeReport(info, aspect, cfg.Output.Width, cfg.Output.Height))
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVarP(&probeAspect, "aspect", "a", "", "target aspect (default: config output.aspect)")
}

func probeReport(info *ffmpeg.VideoInfo, aspect pipeline.Aspect, wantW, wantH int) string {
	cropW, cropH := aspect.CropSize(info.Width, info.Height)
	outW, outH := pipeline.OutputSize(cropW, cropH, wantW, wantH)

	frames := info.Frames
	if frames <= 0 {
		frames = util.FrameCount(info.Duration, info.FPS)
	}
	audio := "none"
	if info.HasAudio {
		audio = info.AudioCodec
	}
	bitrate := "unknown"
	if info.Bitrate > 0 {
		bitrate = humanize.SI(float64(info.Bitrate), "bit/s")
	}

	rows := [][]string{
		{"File", info.FilePath},
		{"Duration", util.FormatDuration(info.Duration)},
		{"Resolution", fmt.Sprintf("%dx%d", info.Width, info.Height)},
		{"Frame rate", strconv.FormatFloat(info.FPS, 'f', 3, 64)},
		{"Frames", humanize.Comma(int64(frames))},
		{"Video codec", info.VideoCodec},
		{"Pixel format", info.PixFmt},
		{"Bitrate", bitrate},
		{"Audio", audio},
		{"Aspect", aspect.String()},
		{"Crop", fmt.Sprintf("%dx%d", cropW, cropH)},
		{"Crop travel", fmt.Sprintf("0-%d px", info.Width-cropW)},
		{"Output", fmt.Sprintf("%dx%d", outW, outH)},
	}
	return renderTable([]string{"Property", "Value"}, rows, []columnAlignment{alignLeft, alignLeft})
}
