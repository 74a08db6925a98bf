package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/kikiluvv/reframer/internal/detect"
	"github.com/kikiluvv/reframer/internal/ffmpeg"
	"github.com/kikiluvv/reframer/internal/tracker"
)

// Request describes one retargeting run.
type Request struct {
	Source string
	Start  time.Duration
	End    time.Duration
	// Aspect is a token understood by ParseAspect.
	Aspect string
	// Tracker is used as given; the zero value means tracker.DefaultConfig.
	Tracker tracker.Config
	Output  string
	// OutputWidth and OutputHeight override the encoded size.
	OutputWidth  int
	OutputHeight int
	// KeepPartial keeps whatever was flushed before a source failure
	// instead of deleting it.
	KeepPartial bool
	// Trace records every frame's crop window in the Result.
	Trace bool
	// Progress is called after every written frame.
	Progress func(done, total int)
}

// Result summarises a finished run.
type Result struct {
	RunID             string
	OutputPath        string
	Frames            int
	Width             int
	Height            int
	CropWidth         int
	CropHeight        int
	FPS               float64
	Profile           string
	Sampled           int
	Detected          int
	DetectionFailures int
	Windows           []tracker.CropWindow
	Elapsed           time.Duration
}

// Config holds pipeline-wide settings shared by every run.
type Config struct {
	// Profiles are the encoder candidates in preference order.
	Profiles     []ffmpeg.Profile
	CloseTimeout time.Duration
}

// FrameReader yields decoded source frames. The returned image may be reused
// by the next call.
type FrameReader interface {
	ReadFrame() (*image.RGBA, error)
	Close() error
}

// FrameWriter consumes output frames.
type FrameWriter interface {
	WriteFrame(img image.Image) error
	Close() error
	Abort()
	Profile() ffmpeg.Profile
}

// Media is the pipeline's view of the media toolchain.
type Media interface {
	Probe(ctx context.Context, path string) (*ffmpeg.VideoInfo, error)
	OpenReader(ctx context.Context, opts ffmpeg.DecoderOptions) (FrameReader, error)
	OpenWriter(ctx context.Context, opts ffmpeg.EncoderOptions) (FrameWriter, error)
}

// DetectorFactory builds a fresh detector for each run.
type DetectorFactory func() (detect.Detector, error)
