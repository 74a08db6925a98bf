package detect

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/kikiluvv/reframer/pkg/util"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// maxWorkerResponse bounds a single response body.
const maxWorkerResponse = 16 << 20

// workerResponse is the msgpack body a worker sends back for each frame.
type workerResponse struct {
	Detections []Detection `msgpack:"detections"`
	Error      string      `msgpack:"error"`
}

// WorkerDetector delegates inference to an external process.
//
// Requests go to the child's stdin as [u32 len][u32 width][u32 height][rgb24],
// len covering everything after itself. Responses come back on file
// descriptor 3 as [u32 len][msgpack body] so anything the child prints to
// stdout or stderr cannot corrupt the stream. All integers are big endian.
type WorkerDetector struct {
	logger zerolog.Logger

	mu     sync.Mutex
	cmd    *util.SafeCommand
	stdin  io.WriteCloser
	data   io.ReadCloser
	buf    []byte
	broken error
}

// NewWorkerDetector starts the worker process. The process lives until Close.
func NewWorkerDetector(logger zerolog.Logger, command []string) (*WorkerDetector, error) {
	if len(command) == 0 {
		return nil, errors.New("worker command is empty")
	}

	cmd := util.NewSafeCommand(exec.Command(command[0], command[1:]...))

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create data pipe: %w", err)
	}
	// The write end shows up as FD 3 in the child.
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to start detector worker %q: %w", command[0], err)
	}
	// Only the child holds the write end now, so its exit surfaces as EOF.
	w.Close()

	logger = logger.With().Str("backend", "worker").Logger()
	logger.Info().Strs("command", command).Int("pid", cmd.Process.Pid).Msg("detector worker started")

	return &WorkerDetector{
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		data:   r,
	}, nil
}

// Detect sends one frame and waits for the worker's answer. Calls are
// serialised; the protocol has no request ids.
func (d *WorkerDetector) Detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.broken != nil {
		return nil, d.broken
	}

	var width, height int
	d.buf, width, height = appendRGB24(d.buf[:0], frame)

	// A cancelled run must not wait on a stalled worker: kill it and close
	// both pipes so the blocked read or write returns.
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		d.interrupt()
		close(interrupted)
	})
	resp, err := d.roundTrip(width, height, d.buf)
	if !stop() {
		<-interrupted
		d.broken = fmt.Errorf("detector worker: %w", ctx.Err())
		d.logger.Warn().Err(ctx.Err()).Msg("detector worker interrupted")
		return nil, ctx.Err()
	}
	if err != nil {
		// A torn stream cannot be resynchronised.
		d.broken = d.describe(fmt.Errorf("detector worker: %w", err))
		d.logger.Warn().Err(d.broken).Msg("detector worker unusable")
		return nil, d.broken
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("detector worker: %s", resp.Error)
	}
	return resp.Detections, nil
}

func (d *WorkerDetector) roundTrip(width, height int, pixels []byte) (*workerResponse, error) {
	var header [12]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(8+len(pixels)))
	binary.BigEndian.PutUint32(header[4:8], uint32(width))
	binary.BigEndian.PutUint32(header[8:12], uint32(height))
	if _, err := d.stdin.Write(header[:]); err != nil {
		return nil, fmt.Errorf("write request header: %w", err)
	}
	if _, err := d.stdin.Write(pixels); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(d.data, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxWorkerResponse {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(d.data, body); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var resp workerResponse
	if err := msgpack.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (d *WorkerDetector) interrupt() {
	if d.cmd != nil && d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.stdin.Close()
	d.data.Close()
}

// describe attaches the worker's recent stderr, which usually holds the
// traceback of whatever killed it.
func (d *WorkerDetector) describe(err error) error {
	if d.cmd == nil || d.cmd.Stderr.Len() == 0 {
		return err
	}
	return fmt.Errorf("%w\nworker stderr: %s", err, d.cmd.Stderr.String())
}

// Close shuts the worker down by closing its stdin and reaps it.
func (d *WorkerDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stdin.Close()
	d.data.Close()
	if d.cmd == nil {
		return nil
	}
	err := d.cmd.Wait()
	d.cmd = nil
	if err != nil && d.broken == nil {
		return fmt.Errorf("detector worker exited: %w", err)
	}
	return nil
}

// appendRGB24 appends the frame as packed 8-bit RGB rows.
func appendRGB24(dst []byte, img image.Image) ([]byte, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if need := len(dst) + w*h*3; cap(dst) < need {
		grown := make([]byte, len(dst), need)
		copy(grown, dst)
		dst = grown
	}

	switch src := img.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				dst = append(dst, row[x*4], row[x*4+1], row[x*4+2])
			}
		}
	case *image.NRGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, y):]
			for x := 0; x < w; x++ {
				dst = append(dst, row[x*4], row[x*4+1], row[x*4+2])
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, g, bl, _ := img.At(x, y).RGBA()
				dst = append(dst, byte(r>>8), byte(g>>8), byte(bl>>8))
			}
		}
	}
	return dst, w, h
}
