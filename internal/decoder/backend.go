package decoder

import (
	"context"
	"image"
	"time"

	"video-compare/internal/media"
)

// Backend probes sources and opens decode streams on them.
type Backend interface {
	// Probe reads container metadata. Failures should wrap ErrUnreadableSource.
	Probe(ctx context.Context, ref string) (media.Info, error)

	// OpenStream starts decoding at start, which lies on the source's frame
	// grid. The first frame returned by ReadFrame is the frame at start.
	OpenStream(info media.Info, start time.Duration, opts StreamOptions) (Stream, error)
}

// StreamOptions tunes a decode stream.
type StreamOptions struct {
	Threads int
}

// Stream yields consecutive frames on the source's frame grid.
type Stream interface {
	// ReadFrame returns the next frame's pixels. It returns ErrEndOfStream
	// after the last frame and a *DecodeError for a frame that could not be
	// decoded; the stream stays usable after a DecodeError unless it also
	// wraps ErrEndOfStream.
	ReadFrame() (*image.RGBA, error)

	// Close stops decoding and releases the underlying process or handle.
	Close() error
}
