package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"

	"github.com/kikiluvv/reframer/pkg/util"
	"github.com/rs/zerolog"
)

// Decoder streams raw RGBA frames out of an ffmpeg child process.
type Decoder struct {
	logger zerolog.Logger
	cmd    *util.SafeCommand
	stdout io.ReadCloser
	frame  *image.RGBA
	frames int
	done   bool
	err    error
}

// OpenDecoder starts decoding opts.Input from opts.Start for opts.Duration.
// Width and Height must be the display size reported by ProbeVideo; ffmpeg
// applies any rotation tag before frames reach the pipe.
func (e *Executor) OpenDecoder(ctx context.Context, opts DecoderOptions) (*Decoder, error) {
	if opts.Input == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, e.threadArgs()...)
	if opts.Start > 0 {
		args = append(args, "-ss", util.FormatDuration(opts.Start))
	}
	args = append(args, "-i", opts.Input)
	if opts.Duration > 0 {
		args = append(args, "-t", util.FormatDuration(opts.Duration))
	}
	args = append(args, "-an", "-sn", "-f", "rawvideo", "-pix_fmt", rawPixFmt, "pipe:1")

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("starting decoder")

	cmd := util.NewSafeCommand(exec.CommandContext(ctx, e.ffmpegPath, args...))
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &Decoder{
		logger: e.logger.With().Str("input", opts.Input).Logger(),
		cmd:    cmd,
		stdout: stdout,
		frame:  image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height)),
	}, nil
}

// ReadFrame returns the next frame, or io.EOF after the last one. The
// returned image is reused by the next call.
func (d *Decoder) ReadFrame() (*image.RGBA, error) {
	if d.done {
		return nil, d.err
	}

	_, err := io.ReadFull(d.stdout, d.frame.Pix)
	if err == nil {
		d.frames++
		return d.frame, nil
	}

	d.done = true
	waitErr := d.cmd.Wait()
	switch {
	case waitErr != nil:
		d.err = fmt.Errorf("%w after %d frames: %w%s", ErrDecodeFailed, d.frames, waitErr, stderrSuffix(d.cmd.Stderr))
	case errors.Is(err, io.EOF):
		d.err = io.EOF
	default:
		d.err = fmt.Errorf("%w: truncated frame %d: %w", ErrDecodeFailed, d.frames, err)
	}
	return nil, d.err
}

// Frames returns the number of complete frames read.
func (d *Decoder) Frames() int { return d.frames }

// Close stops the decoder if it is still running and reaps it.
func (d *Decoder) Close() error {
	if d.done {
		return nil
	}
	d.done = true
	d.err = io.EOF
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
	d.logger.Debug().Int("frames", d.frames).Msg("decoder closed")
	return nil
}
