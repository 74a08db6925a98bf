package ffmpeg_test

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/kikiluvv/reframer/internal/ffmpeg"
	"github.com/rs/zerolog"
)

// local helper (cannot use unexported ones from ffmpeg package)
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH - install with: brew install ffmpeg")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH - install with: brew install ffmpeg")
	}
}

func TestIntegration_DecodeCropEncode(t *testing.T) {
	skipIfNoFFmpeg(t)

	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}).With().Str("test", "integration_ffmpeg").Logger()

	exec, err := ffmpeg.New(logger, ffmpeg.Options{Threads: 2})
	if err != nil {
		t.Fatalf("failed to create executor: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dir := t.TempDir()
	source := filepath.Join(dir, "source.mp4")
	err = exec.Run(ctx, ffmpeg.RunOptions{Args: []string{
		"-f", "lavfi", "-i", "testsrc=size=320x180:rate=25",
		"-t", "2", "-pix_fmt", "yuv420p", source,
	}})
	if err != nil {
		t.Fatalf("failed to generate source: %v", err)
	}

	info, err := exec.ProbeVideo(ctx, source)
	if err != nil {
		t.Fatalf("ProbeVideo failed: %v", err)
	}
	t.Logf("source: %dx%d @ %.2f fps, %v", info.Width, info.Height, info.FPS, info.Duration)

	dec, err := exec.OpenDecoder(ctx, ffmpeg.DecoderOptions{
		Input:    source,
		Start:    500 * time.Millisecond,
		Duration: time.Second,
		Width:    info.Width,
		Height:   info.Height,
	})
	if err != nil {
		t.Fatalf("OpenDecoder failed: %v", err)
	}
	defer dec.Close()

	output := filepath.Join(dir, "portrait.mp4")
	enc, err := exec.OpenEncoder(ctx, ffmpeg.EncoderOptions{
		Output:   output,
		Width:    100,
		Height:   180,
		FPS:      info.FPS,
		Profiles: ffmpeg.DefaultProfiles("ultrafast", 30),
	})
	if err != nil {
		t.Fatalf("OpenEncoder failed: %v", err)
	}
	t.Logf("negotiated profile: %s", enc.Profile().Name)

	for {
		frame, err := dec.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			enc.Abort()
			t.Fatalf("ReadFrame failed: %v", err)
		}
		if err := enc.WriteFrame(imaging.Crop(frame, image.Rect(110, 0, 210, 180))); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if n := dec.Frames(); n < 24 || n > 26 {
		t.Errorf("expected about 25 decoded frames, got %d", n)
	}

	out, err := exec.ProbeVideo(ctx, output)
	if err != nil {
		t.Fatalf("probing output failed: %v", err)
	}
	if out.Width != 100 || out.Height != 180 {
		t.Errorf("expected 100x180 output, got %dx%d", out.Width, out.Height)
	}
	t.Logf("output: %dx%d @ %.2f fps, %d frames written", out.Width, out.Height, out.FPS, enc.Frames())
}
