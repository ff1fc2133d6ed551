package timeline

import (
	"errors"
	"time"

	"video-compare/internal/media"
)

// ErrSyncTimeout is recorded on a slot whose decode did not finish within
// the synchronizer timeout.
var ErrSyncTimeout = errors.New("sync timeout")

// Status describes how a slot's frame relates to the requested time.
type Status int

const (
	// Available means the frame is exactly the one due at the local time.
	Available Status = iota
	// Stale means the decoder was too slow and an older frame is shown.
	Stale
	// BeforeStart means the local time is negative; there is no frame.
	BeforeStart
	// Ended means the local time is past the source's end; Frame holds the
	// last frame if one is known.
	Ended
	// Unavailable means no frame could be produced at all.
	Unavailable
)

var statusNames = [...]string{"available", "stale", "before-start", "ended", "unavailable"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Slot is one source's share of a FramePair.
type Slot struct {
	Frame  *media.Frame
	Status Status
	Local  time.Duration
	Err    error
}

// HasFrame reports whether the slot carries a picture.
func (s Slot) HasFrame() bool {
	return s.Frame != nil && s.Frame.Image != nil
}

// Degraded reports whether the picture is not the exact frame due: a stale
// fallback or a substitute for a frame that failed to decode.
func (s Slot) Degraded() bool {
	return s.Status == Stale || (s.Frame != nil && s.Frame.Substitute)
}

// FramePair holds the frames of both sources for one clock value.
type FramePair struct {
	Clock time.Duration
	Slots [2]Slot
}

// A returns the first source's slot.
func (p FramePair) A() Slot { return p.Slots[0] }

// B returns the second source's slot.
func (p FramePair) B() Slot { return p.Slots[1] }

// AllEnded reports whether every source is past its end.
func (p FramePair) AllEnded() bool {
	return p.Slots[0].Status == Ended && p.Slots[1].Status == Ended
}

// AnyEnded reports whether at least one source is past its end.
func (p FramePair) AnyEnded() bool {
	return p.Slots[0].Status == Ended || p.Slots[1].Status == Ended
}
