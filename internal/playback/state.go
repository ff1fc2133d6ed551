package playback

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"video-compare/internal/compositor"
)

var (
	// ErrInvalidTransition is returned by a command not allowed in the
	// current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidArgument is returned for out-of-range command arguments.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned by commands sent after Close.
	ErrClosed = errors.New("controller closed")

	// ErrResourceExhausted is reported when memory pressure forced caches
	// to shrink.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// State is the playback state.
type State int

const (
	Stopped State = iota
	Playing
	Paused
	// Seeking is entered while a seek target resolves and left for the
	// state the seek started from.
	Seeking
)

var stateNames = [...]string{"stopped", "playing", "paused", "seeking"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// EndPolicy decides what happens when sources run out.
type EndPolicy int

const (
	// EndHoldLast keeps showing an ended source's last frame while the
	// other continues; playback pauses once every source has ended.
	EndHoldLast EndPolicy = iota
	// EndPauseAtShorter pauses as soon as either source ends.
	EndPauseAtShorter
)

func (p EndPolicy) String() string {
	if p == EndPauseAtShorter {
		return "pause-at-shorter"
	}
	return "hold-last"
}

// ParseEndPolicy parses "hold-last" or "pause-at-shorter".
func ParseEndPolicy(s string) (EndPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hold-last", "hold", "":
		return EndHoldLast, nil
	case "pause-at-shorter", "pause":
		return EndPauseAtShorter, nil
	}
	return 0, fmt.Errorf("%w: unknown end policy %q", ErrInvalidArgument, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p EndPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *EndPolicy) UnmarshalText(b []byte) error {
	v, err := ParseEndPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Speed limits.
const (
	MinSpeed = 0.0625
	MaxSpeed = 16
)

// SyncState is the playback state of one session. Values returned by
// Controller.Snapshot are copies and never change.
type SyncState struct {
	State     State               `json:"state"`
	Clock     time.Duration       `json:"clock"`
	Offsets   [2]time.Duration    `json:"offsets"`
	Rate      float64             `json:"rate"` // 0 unless playing
	Speed     float64             `json:"speed"`
	Mode      compositor.Mode     `json:"mode"`
	Threshold uint8               `json:"threshold"`
	ColorMap  compositor.ColorMap `json:"colorMap"`
	Division  float64             `json:"division"`
	EndPolicy EndPolicy           `json:"endPolicy"`

	// Duration is the clock value at which the later source ends.
	Duration time.Duration `json:"duration"`
}

// params overlays the state's composition settings on base.
func (s SyncState) params(base compositor.Params) compositor.Params {
	base.Threshold = s.Threshold
	base.ColorMap = s.ColorMap
	base.Division = s.Division
	return base
}
