package playback

import (
	"image"
	"time"

	"video-compare/internal/compositor"
)

// Output is one composed frame delivered to the display.
type Output struct {
	Image  *image.RGBA
	Clock  time.Duration
	AStale bool
	BStale bool
	AEnded bool
	BEnded bool
	State  State
	Mode   compositor.Mode
	Diff   *compositor.DiffStats
	Seq    uint64
}

// Event kinds.
const (
	EventDecode            = "decode"
	EventSyncTimeout       = "sync-timeout"
	EventUnavailable       = "unavailable"
	EventResourceExhausted = "resource-exhausted"
)

// ErrorEvent reports a non-fatal problem to the display.
type ErrorEvent struct {
	Time   time.Time     `json:"time"`
	Kind   string        `json:"kind"`
	Source string        `json:"source,omitempty"`
	Clock  time.Duration `json:"clock"`
	Err    error         `json:"-"`
	// Message is Err's text, kept for serialisation.
	Message string `json:"message"`
}
