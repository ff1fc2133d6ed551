package compositor

import (
	"fmt"
	"image/color"
	"strings"
)

// Mode selects the output layout.
type Mode int

const (
	SideBySide Mode = iota
	Overlay
	Wipe
)

var modeNames = [...]string{"side-by-side", "overlay", "wipe"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses a mode name. "sbs" and "diff" are accepted as aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "side-by-side", "sidebyside", "sbs":
		return SideBySide, nil
	case "overlay", "diff":
		return Overlay, nil
	case "wipe", "split":
		return Wipe, nil
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ColorMap selects how overlay differences are drawn.
type ColorMap int

const (
	// ColorMapGray draws the raw difference as grayscale.
	ColorMapGray ColorMap = iota
	// ColorMapHeat draws differences above the threshold in heat colours
	// and everything else as grayscale.
	ColorMapHeat
)

func (c ColorMap) String() string {
	if c == ColorMapHeat {
		return "heat"
	}
	return "gray"
}

// ParseColorMap parses "gray" (or "grey") and "heat".
func ParseColorMap(s string) (ColorMap, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gray", "grey", "":
		return ColorMapGray, nil
	case "heat":
		return ColorMapHeat, nil
	}
	return 0, fmt.Errorf("unknown color map %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (c ColorMap) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ColorMap) UnmarshalText(b []byte) error {
	v, err := ParseColorMap(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Params tunes composition.
type Params struct {
	// Threshold is the overlay difference (0-255) above which a pixel
	// counts as different.
	Threshold uint8
	ColorMap  ColorMap

	// Division is the wipe divider position as a fraction of the width.
	Division float64

	// Gap is the side-by-side spacing in pixels.
	Gap int

	// Background fills padding and missing-frame panels.
	Background color.RGBA

	// Badges draws stale and missing-frame labels.
	Badges bool
}

// DefaultParams returns the default composition parameters.
func DefaultParams() Params {
	return Params{
		Threshold:  10,
		ColorMap:   ColorMapGray,
		Division:   0.5,
		Background: color.RGBA{R: 32, G: 32, B: 32, A: 255},
		Badges:     true,
	}
}

// ClampDivision keeps a wipe divider inside the picture, 1% from each edge.
func ClampDivision(d float64) float64 {
	switch {
	case d != d: // NaN
		return 0.5
	case d < 0.01:
		return 0.01
	case d > 0.99:
		return 0.99
	}
	return d
}
