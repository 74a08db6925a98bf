package util

import (
	"os/exec"
	"sync"
)

// DefaultTailSize is how much child stderr is retained for diagnostics.
const DefaultTailSize = 16 * 1024

// TailBuffer is an io.Writer that keeps only the last Max bytes written.
// It is safe for concurrent use, which matters because exec copies child
// output from its own goroutine while we may read it on a timeout path.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	Max int
}

// NewTailBuffer returns a TailBuffer retaining up to max bytes.
func NewTailBuffer(max int) *TailBuffer {
	if max <= 0 {
		max = DefaultTailSize
	}
	return &TailBuffer{Max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.Max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// String returns the retained tail.
func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Len returns the number of retained bytes.
func (t *TailBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

// SafeCommand wraps exec.Cmd with a bounded buffer on Stderr so crash
// information from a child process is never lost.
type SafeCommand struct {
	*exec.Cmd
	Stderr *TailBuffer
}

// NewSafeCommand prepares a command with captured stderr. It does not start it.
func NewSafeCommand(cmd *exec.Cmd) *SafeCommand {
	stderr := NewTailBuffer(DefaultTailSize)
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}
