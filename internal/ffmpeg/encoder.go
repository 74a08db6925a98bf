package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/kikiluvv/reframer/pkg/util"
	"github.com/rs/zerolog"
)

// EncoderSession is a running ffmpeg process consuming raw RGBA frames on
// stdin. It is not safe for concurrent use.
type EncoderSession struct {
	logger       zerolog.Logger
	cmd          *util.SafeCommand
	stdin        io.WriteCloser
	profile      Profile
	width        int
	height       int
	fps          float64
	output       string
	closeTimeout time.Duration

	frames   int
	buf      []byte
	broken   error
	closed   bool
	closeErr error
}

// OpenEncoder negotiates a working profile and starts the encoder.
//
// Each candidate is first exercised by a throwaway process that encodes one
// black frame to the null muxer. Only a candidate whose canary write and exit
// both succeed is used for the real output, so a missing codec or a broken
// hardware encoder is discovered before any real frame is produced.
func (e *Executor) OpenEncoder(ctx context.Context, opts EncoderOptions) (*EncoderSession, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", opts.Width, opts.Height)
	}
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("invalid frame rate %f", opts.FPS)
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	profiles := opts.Profiles
	if len(profiles) == 0 {
		profiles = DefaultProfiles(DefaultPreset, DefaultCRF)
	}

	var causes []error
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := e.canary(ctx, opts, p); err != nil {
			e.logger.Warn().Err(err).Str("profile", p.Name).Msg("encoder profile rejected")
			causes = append(causes, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}

		session, err := e.startEncoder(ctx, opts, p)
		if err != nil {
			e.logger.Warn().Err(err).Str("profile", p.Name).Msg("encoder failed to start")
			causes = append(causes, fmt.Errorf("%s: %w", p.Name, err))
			continue
		}

		e.logger.Info().
			Str("profile", p.Name).
			Str("output", opts.Output).
			Int("width", opts.Width).
			Int("height", opts.Height).
			Float64("fps", opts.FPS).
			Msg("encoder negotiated")
		return session, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, fmt.Errorf("%w: %w", ErrNegotiationFailed, errors.Join(causes...))
}

// encoderArgs builds the command line for a raw-RGBA-on-stdin encoder.
func (e *Executor) encoderArgs(opts EncoderOptions, p Profile, format, output string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args,
		"-f", "rawvideo",
		"-pix_fmt", rawPixFmt,
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", strconv.FormatFloat(opts.FPS, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
	)
	args = append(args, e.threadArgs()...)
	args = append(args, p.Args...)
	if format != "" {
		args = append(args, "-f", format)
	}
	return append(args, output)
}

// canary encodes a single black frame with profile p and discards the result.
// The frame write and the exit are each bounded by CloseTimeout; a process
// that never drains stdin is killed and the profile rejected.
func (e *Executor) canary(ctx context.Context, opts EncoderOptions, p Profile) error {
	args := e.encoderArgs(opts, p, "null", "-")
	cmd := util.NewSafeCommand(exec.CommandContext(ctx, e.ffmpegPath, args...))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frame := make([]byte, opts.Width*opts.Height*4)
	for i := 3; i < len(frame); i += 4 {
		frame[i] = 0xff
	}
	written := make(chan error, 1)
	go func() {
		_, err := stdin.Write(frame)
		written <- err
	}()

	timer := time.NewTimer(opts.CloseTimeout)
	defer timer.Stop()

	var writeErr error
	select {
	case writeErr = <-written:
	case <-timer.C:
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		// Closing our end unblocks the write even if a child still holds the pipe.
		stdin.Close()
		<-written
		cmd.Wait()
		return fmt.Errorf("canary write: frame not consumed within %s%s", opts.CloseTimeout, stderrSuffix(cmd.Stderr))
	}
	stdin.Close()

	waitErr := waitTimeout(cmd.Cmd, opts.CloseTimeout)
	switch {
	case writeErr != nil:
		return fmt.Errorf("canary write: %w%s", writeErr, stderrSuffix(cmd.Stderr))
	case waitErr != nil:
		return fmt.Errorf("canary exit: %w%s", waitErr, stderrSuffix(cmd.Stderr))
	}
	return nil
}

func (e *Executor) startEncoder(ctx context.Context, opts EncoderOptions, p Profile) (*EncoderSession, error) {
	args := e.encoderArgs(opts, p, opts.Format, opts.Output)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("starting encoder")

	cmd := util.NewSafeCommand(exec.CommandContext(ctx, e.ffmpegPath, args...))
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &EncoderSession{
		logger:  e.logger.With().Str("profile", p.Name).Logger(),
		cmd:     cmd,
		stdin:   stdin,
		profile: p,
		width:   opts.Width,
		height:  opts.Height,
		fps:     opts.FPS,
		output:  opts.Output,

		closeTimeout: opts.CloseTimeout,
	}, nil
}

// Profile returns the negotiated profile.
func (s *EncoderSession) Profile() Profile { return s.profile }

// Frames returns how many frames were written successfully.
func (s *EncoderSession) Frames() int { return s.frames }

// WriteFrame sends one frame to the encoder. The image must match the
// session size. After the first failure every call returns the same error.
func (s *EncoderSession) WriteFrame(img image.Image) error {
	if s.broken != nil {
		return s.broken
	}
	if s.closed {
		return fmt.Errorf("%w: session is closed", ErrWriteFailed)
	}

	b := img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("frame is %dx%d, encoder expects %dx%d", b.Dx(), b.Dy(), s.width, s.height)
	}

	if _, err := s.stdin.Write(s.pack(img)); err != nil {
		s.broken = fmt.Errorf("%w: frame %d: %w%s", ErrWriteFailed, s.frames, err, stderrSuffix(s.cmd.Stderr))
		s.logger.Error().Err(err).Int("frame", s.frames).Msg("encoder write failed")
		return s.broken
	}
	s.frames++
	return nil
}

// pack returns the frame as tightly packed RGBA rows, avoiding a copy when
// the image is already laid out that way.
func (s *EncoderSession) pack(img image.Image) []byte {
	size := s.width * s.height * 4
	b := img.Bounds()

	var pix []byte
	var stride int
	switch src := img.(type) {
	case *image.NRGBA:
		pix, stride = src.Pix[src.PixOffset(b.Min.X, b.Min.Y):], src.Stride
	case *image.RGBA:
		pix, stride = src.Pix[src.PixOffset(b.Min.X, b.Min.Y):], src.Stride
	}

	if pix != nil && stride == s.width*4 && len(pix) >= size {
		return pix[:size]
	}

	if cap(s.buf) < size {
		s.buf = make([]byte, size)
	}
	buf := s.buf[:size]
	row := s.width * 4
	if pix != nil {
		for y := 0; y < s.height; y++ {
			copy(buf[y*row:(y+1)*row], pix[y*stride:y*stride+row])
		}
		return buf
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			buf[i], buf[i+1], buf[i+2], buf[i+3] = byte(r>>8), byte(g>>8), byte(bl>>8), byte(a>>8)
			i += 4
		}
	}
	return buf
}

// Close flushes the encoder by closing its stdin and waits for it to exit.
// A non-zero exit or timeout yields ErrShutdown with the captured stderr.
// Calling Close again returns the first result.
func (s *EncoderSession) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.stdin.Close()

	err := waitTimeout(s.cmd.Cmd, s.closeTimeout)
	switch {
	case errors.Is(err, errWaitTimeout):
		s.closeErr = fmt.Errorf("%w: no exit within %s%s", ErrShutdown, s.closeTimeout, stderrSuffix(s.cmd.Stderr))
	case err != nil:
		s.closeErr = fmt.Errorf("%w: %w%s", ErrShutdown, err, stderrSuffix(s.cmd.Stderr))
	}

	if s.closeErr != nil {
		s.logger.Error().Err(s.closeErr).Int("frames", s.frames).Msg("encoder shutdown failed")
	} else {
		s.logger.Info().Int("frames", s.frames).Str("output", s.output).Msg("encoder finished")
	}
	return s.closeErr
}

// Abort kills the encoder without flushing and reaps it.
func (s *EncoderSession) Abort() {
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = fmt.Errorf("%w: aborted", ErrShutdown)
	s.stdin.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	s.logger.Warn().Int("frames", s.frames).Msg("encoder aborted")
}
