package pipeline

import (
	"context"

	"github.com/kikiluvv/reframer/internal/ffmpeg"
)

// ffmpegMedia backs Media with ffmpeg child processes.
type ffmpegMedia struct {
	exec *ffmpeg.Executor
}

// NewMedia returns a Media that decodes and encodes through exec.
func NewMedia(exec *ffmpeg.Executor) Media {
	return &ffmpegMedia{exec: exec}
}

func (m *ffmpegMedia) Probe(ctx context.Context, path string) (*ffmpeg.VideoInfo, error) {
	return m.exec.ProbeVideo(ctx, path)
}

func (m *ffmpegMedia) OpenReader(ctx context.Context, opts ffmpeg.DecoderOptions) (FrameReader, error) {
	d, err := m.exec.OpenDecoder(ctx, opts)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (m *ffmpegMedia) OpenWriter(ctx context.Context, opts ffmpeg.EncoderOptions) (FrameWriter, error) {
	s, err := m.exec.OpenEncoder(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
