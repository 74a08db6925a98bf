package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds. Every error returned by Retarget is an *Error whose Kind is one
// of these, so callers can branch with errors.Is.
var (
	// ErrInvalidRequest: the request failed validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSourceRead: the input could not be probed, opened or decoded.
	ErrSourceRead = errors.New("source read failed")
	// ErrDetectorUnavailable: the detection backend could not be created.
	ErrDetectorUnavailable = errors.New("detector unavailable")
	// ErrEncoderNegotiation: no encoder profile passed its canary write.
	ErrEncoderNegotiation = errors.New("encoder negotiation failed")
	// ErrEncoderWrite: the encoder rejected a frame after negotiation.
	ErrEncoderWrite = errors.New("encoder write failed")
	// ErrEncoderShutdown: the encoder exited non-zero or timed out on close.
	ErrEncoderShutdown = errors.New("encoder shutdown failed")
	// ErrOutput: the finished file could not be moved into place.
	ErrOutput = errors.New("output finalization failed")
	// ErrCanceled: the context was canceled mid-run.
	ErrCanceled = errors.New("retarget canceled")
)

// Error carries the context of a failed run.
type Error struct {
	Kind   error
	Source string
	Start  time.Duration
	End    time.Duration
	// Frame is the range-relative frame index, or -1 when the failure is not
	// tied to a frame.
	Frame int
	Err   error
}

func (e *Error) Error() string {
	where := fmt.Sprintf("%s [%s-%s]", e.Source, e.Start, e.End)
	if e.Frame >= 0 {
		where += fmt.Sprintf(" frame %d", e.Frame)
	}
	if e.Err == nil {
		return fmt.Sprintf("retarget %s: %v", where, e.Kind)
	}
	return fmt.Sprintf("retarget %s: %v: %v", where, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
