package ffmpeg

import (
	"errors"
	"time"
)

// Sink errors. Callers classify failures with errors.Is.
var (
	// ErrNegotiationFailed means no candidate profile survived its canary write.
	ErrNegotiationFailed = errors.New("encoder negotiation failed")
	// ErrWriteFailed means the encoder stopped accepting frames.
	ErrWriteFailed = errors.New("encoder write failed")
	// ErrShutdown means the encoder exited non-zero or did not exit in time.
	ErrShutdown = errors.New("encoder shutdown failed")
	// ErrDecodeFailed means the frame source exited abnormally.
	ErrDecodeFailed = errors.New("decode failed")
)

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int // display width, after rotation
	Height     int
	Rotation   int // clockwise degrees
	FPS        float64
	Frames     int
	Bitrate    int64
	VideoCodec string
	PixFmt     string
	HasAudio   bool
	AudioCodec string
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame   int
	FPS     float64
	Bitrate string
	Time    string
	Speed   string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// ProgressFunc is a callback for progress updates during ffmpeg operations.
type ProgressFunc func(*Progress)

// Default encoding settings
const (
	DefaultCRF          = 23
	DefaultPreset       = "fast"
	DefaultVideoCodec   = "libx264"
	DefaultPixFmt       = "yuv420p"
	DefaultCloseTimeout = 30 * time.Second
)

// rawPixFmt is the layout of every frame crossing a pipe in either direction.
const rawPixFmt = "rgba"

// Profile is one encoder configuration the sink may negotiate.
type Profile struct {
	Name string
	// Args are the output options, "-c:v" included.
	Args []string
}

// EncoderOptions configures an encoder session.
type EncoderOptions struct {
	Output string
	Width  int
	Height int
	FPS    float64
	// Format forces the output container; empty lets ffmpeg infer it from
	// the output extension.
	Format string
	// Profiles are tried in order. Empty means DefaultProfiles.
	Profiles     []Profile
	CloseTimeout time.Duration
}

// DecoderOptions configures a raw frame source.
type DecoderOptions struct {
	Input    string
	Start    time.Duration
	Duration time.Duration
	Width    int
	Height   int
}

// StaticCropOptions configures a one-shot fixed crop render.
type StaticCropOptions struct {
	Input        string
	Output       string
	Start        time.Duration
	Duration     time.Duration
	CropWidth    int
	CropHeight   int
	X            int
	Y            int
	Width        int
	Height       int
	Profile      Profile
	ProgressFunc ProgressFunc
}
