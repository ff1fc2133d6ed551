package decoder

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnreadableSource means the source is missing, not a video, or uses
	// an unsupported codec or frame size.
	ErrUnreadableSource = errors.New("unreadable source")

	// ErrEndOfStream means the requested position is past the last frame.
	ErrEndOfStream = errors.New("end of stream")

	// ErrDecode means a single frame could not be decoded.
	ErrDecode = errors.New("decode error")

	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("decoder closed")

	// ErrNotStarted is returned by decode requests made before Start.
	ErrNotStarted = errors.New("decoder not started")
)

// SourceError wraps a failure to open a source. It matches
// ErrUnreadableSource with errors.Is.
type SourceError struct {
	Ref    string
	Reason string
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable source %q: %s: %v", e.Ref, e.Reason, e.Err)
	}
	return fmt.Sprintf("unreadable source %q: %s", e.Ref, e.Reason)
}

func (e *SourceError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrUnreadableSource, e.Err}
	}
	return []error{ErrUnreadableSource}
}

// DecodeError describes a frame that could not be decoded. Fatal is set when
// no frame of the source has ever been decoded, so there is nothing to
// substitute.
type DecodeError struct {
	Source string
	PTS    time.Duration
	Seq    int64
	Fatal  bool
	Err    error
}

func (e *DecodeError) Error() string {
	kind := "decode error"
	if e.Fatal {
		kind = "fatal decode error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s at frame %d (%v): %v", e.Source, kind, e.Seq, e.PTS, e.Err)
	}
	return fmt.Sprintf("%s: %s at frame %d (%v)", e.Source, kind, e.Seq, e.PTS)
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}
	return []error{ErrDecode}
}

// IsFatal reports whether err is a fatal DecodeError.
func IsFatal(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Fatal
}
