package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kikiluvv/reframer/internal/clips"
	"github.com/kikiluvv/reframer/internal/config"
	"github.com/kikiluvv/reframer/internal/ffmpeg"
	"github.com/kikiluvv/reframer/internal/pipeline"
	"github.com/kikiluvv/reframer/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, "/videos/talk_portrait.mp4", defaultOutputPath("/videos/talk.mov", "portrait"))
	assert.Equal(t, "/videos/talk_4x5.mp4", defaultOutputPath("/videos/talk.mp4", "4:5"))
	assert.Equal(t, "clip_portrait.mp4", defaultOutputPath("clip.mkv", ""))
}

func TestShouldFallback(t *testing.T) {
	wrap := func(kind error) error { return &pipeline.Error{Kind: kind, Frame: -1, Err: errors.New("cause")} }

	assert.True(t, shouldFallback(wrap(pipeline.ErrEncoderNegotiation)))
	assert.True(t, shouldFallback(wrap(pipeline.ErrDetectorUnavailable)))
	assert.True(t, shouldFallback(wrap(pipeline.ErrSourceRead)))
	assert.False(t, shouldFallback(wrap(pipeline.ErrCanceled)))
	assert.False(t, shouldFallback(wrap(pipeline.ErrInvalidRequest)))
}

func TestApplyRetargetFlags(t *testing.T) {
	f := retargetCmd.Flags()
	require.NoError(t, f.Set("aspect", "square"))
	require.NoError(t, f.Set("sample-rate", "5"))
	require.NoError(t, f.Set("strategy", "centre"))
	require.NoError(t, f.Set("no-prediction", "true"))
	require.NoError(t, f.Set("keep-partial", "true"))

	cfg := config.Default()
	require.NoError(t, applyRetargetFlags(retargetCmd, cfg))
	assert.Equal(t, "square", cfg.Output.Aspect)
	assert.Equal(t, 5, cfg.Tracker.SampleRate)
	assert.Equal(t, tracker.Centered, cfg.Tracker.Strategy)
	assert.False(t, cfg.Tracker.PredictionEnabled)
	assert.True(t, cfg.Output.KeepPartial)
	assert.Equal(t, 300.0, cfg.Tracker.MaxPanSpeed, "unset flags leave the config alone")

	require.NoError(t, f.Set("sample-rate", "0"))
	assert.Error(t, applyRetargetFlags(retargetCmd, config.Default()))

	require.NoError(t, f.Set("sample-rate", "3"))
	require.NoError(t, f.Set("strategy", "zigzag"))
	assert.Error(t, applyRetargetFlags(retargetCmd, config.Default()))
}

func testClips(n int) []*clips.Clip {
	out := make([]*clips.Clip, n)
	for i := range out {
		out[i] = &clips.Clip{
			ID:     fmt.Sprintf("clip-%03d", i+1),
			Source: "in.mp4",
			End:    time.Second,
			Output: fmt.Sprintf("out-%d.mp4", i),
		}
	}
	return out
}

func TestRunBatchBoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	render := func(ctx context.Context, c *clips.Clip, _ func(int, int)) (*pipeline.Result, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		if c.ID == "clip-003" {
			return nil, &pipeline.Error{Kind: pipeline.ErrEncoderWrite, Frame: 7, Err: errors.New("broken pipe")}
		}
		return &pipeline.Result{OutputPath: c.Output, Frames: 30, Profile: "libx264"}, nil
	}

	outcomes, err := runBatch(context.Background(), render, testClips(6), 2, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 1, countFailed(outcomes))
	assert.ErrorIs(t, outcomes[2].err, pipeline.ErrEncoderWrite)
	assert.Equal(t, 30, outcomes[5].result.Frames)

	summary := batchSummary(outcomes)
	assert.Contains(t, summary, "clip-003")
	assert.Contains(t, summary, "failed")
	assert.Contains(t, summary, "libx264")
}

func TestRunBatchFailFast(t *testing.T) {
	var started atomic.Int32
	render := func(ctx context.Context, c *clips.Clip, _ func(int, int)) (*pipeline.Result, error) {
		started.Add(1)
		if c.ID == "clip-001" {
			return nil, errors.New("no encoder")
		}
		select {
		case <-ctx.Done():
			return nil, &pipeline.Error{Kind: pipeline.ErrCanceled, Frame: -1, Err: ctx.Err()}
		case <-time.After(5 * time.Second):
			return &pipeline.Result{}, nil
		}
	}

	outcomes, err := runBatch(context.Background(), render, testClips(4), 2, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clip-001")
	assert.Equal(t, "failed", outcomeStatus(outcomes[0]))
	assert.Equal(t, "canceled", outcomeStatus(outcomes[1]))
}

func TestOutcomeStatus(t *testing.T) {
	assert.Equal(t, "ok", outcomeStatus(batchOutcome{result: &pipeline.Result{Profile: "mpeg4"}}))
	assert.Equal(t, "static", outcomeStatus(batchOutcome{result: &pipeline.Result{Profile: staticProfile}}))
	assert.Equal(t, "failed", outcomeStatus(batchOutcome{err: errors.New("boom")}))
}

func TestProbeReport(t *testing.T) {
	info := &ffmpeg.VideoInfo{
		FilePath:   "talk.mp4",
		Duration:   90 * time.Second,
		Width:      1920,
		Height:     1080,
		FPS:        30,
		VideoCodec: "h264",
		PixFmt:     "yuv420p",
		Bitrate:    4_500_000,
	}
	report := probeReport(info, pipeline.Portrait, 0, 0)
	assert.Contains(t, report, "607x1080")
	assert.Contains(t, report, "606x1080")
	assert.Contains(t, report, "0-1313 px")
	assert.Contains(t, report, "2,700")
	assert.Contains(t, report, "00:01:30.000")
}

func TestCloseLogFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "reframer.log"))
	require.NoError(t, err)
	logOut = f

	closeLogFile()
	assert.Nil(t, logOut)
	_, err = f.WriteString("late line")
	assert.Error(t, err, "file must be closed")

	closeLogFile()
}
