package media

import (
	"image"
	"math"
	"time"
)

// gridEpsilon absorbs nanosecond rounding in FramePTS so that
// FrameIndex(FramePTS(k)) == k.
const gridEpsilon = 1e-6

// Info describes an opened source.
type Info struct {
	ID        string        `json:"id"`
	Ref       string        `json:"ref"`
	Duration  time.Duration `json:"duration"`
	FrameRate float64       `json:"frameRate"`
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	Codec     string        `json:"codec"`
	Frames    int64         `json:"frames"`
}

// Normalize fills Frames from Duration and FrameRate when the container did
// not report a frame count.
func (i *Info) Normalize() {
	if i.Frames <= 0 && i.FrameRate > 0 {
		i.Frames = int64(math.Ceil(i.Duration.Seconds()*i.FrameRate - gridEpsilon))
	}
	if i.Frames < 1 {
		i.Frames = 1
	}
}

// FrameInterval is the nominal time between two frames.
func (i Info) FrameInterval() time.Duration {
	if i.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / i.FrameRate)
}

// FrameIndex returns the index of the frame presented at ts, clamped to the
// last frame. It returns -1 for negative timestamps.
func (i Info) FrameIndex(ts time.Duration) int64 {
	if ts < 0 {
		return -1
	}
	idx := int64(math.Floor(float64(ts)*i.FrameRate/float64(time.Second) + gridEpsilon))
	if i.Frames > 0 && idx >= i.Frames {
		idx = i.Frames - 1
	}
	return idx
}

// FramePTS returns the presentation timestamp of frame idx.
func (i Info) FramePTS(idx int64) time.Duration {
	if i.FrameRate <= 0 {
		return 0
	}
	return time.Duration(math.Round(float64(idx) * float64(time.Second) / i.FrameRate))
}

// LastPTS is the timestamp of the final frame.
func (i Info) LastPTS() time.Duration {
	return i.FramePTS(i.Frames - 1)
}

// Frame is one decoded picture. Frames are never mutated after they are
// produced, so they may be shared between the cache and the compositor.
type Frame struct {
	PTS        time.Duration
	Seq        int64
	Image      *image.RGBA
	Substitute bool
}

// Bytes returns the pixel buffer size.
func (f *Frame) Bytes() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return len(f.Image.Pix)
}

// SubstituteAt returns a copy of f relabelled as the frame at pts/seq. The
// pixel buffer is shared.
func (f *Frame) SubstituteAt(pts time.Duration, seq int64) *Frame {
	return &Frame{PTS: pts, Seq: seq, Image: f.Image, Substitute: true}
}
