package decoder

import (
	"context"
	"fmt"
	"image"
	"time"

	"video-compare/internal/media"
)

// Half selects one side of a split-screen source.
type Half int

const (
	LeftHalf Half = iota
	RightHalf
)

func (h Half) String() string {
	if h == RightHalf {
		return "right"
	}
	return "left"
}

// HalfView exposes one half of a source that holds two pictures side by
// side. Width is halved (an odd column goes to neither side) and every
// frame is cropped accordingly.
type HalfView struct {
	Backend Backend
	Side    Half
}

// Probe probes the underlying source and halves its width.
func (v HalfView) Probe(ctx context.Context, ref string) (media.Info, error) {
	info, err := v.Backend.Probe(ctx, ref)
	if err != nil {
		return media.Info{}, err
	}
	if info.Width < 2 || info.Width%2 != 0 {
		return media.Info{}, &SourceError{Ref: ref, Reason: fmt.Sprintf("width %d cannot be split in half", info.Width)}
	}
	info.Width /= 2
	info.ID = info.ID + "-" + v.Side.String()
	return info, nil
}

// OpenStream opens the full-width stream and crops each frame.
func (v HalfView) OpenStream(info media.Info, start time.Duration, opts StreamOptions) (Stream, error) {
	full := info
	full.Width = info.Width * 2

	rect := image.Rect(0, 0, info.Width, info.Height)
	if v.Side == RightHalf {
		rect = image.Rect(info.Width, 0, info.Width*2, info.Height)
	}

	s, err := v.Backend.OpenStream(full, start, opts)
	if err != nil {
		return nil, err
	}
	return &halfStream{Stream: s, rect: rect}, nil
}

type halfStream struct {
	Stream
	rect image.Rectangle
}

func (s *halfStream) ReadFrame() (*image.RGBA, error) {
	img, err := s.Stream.ReadFrame()
	if err != nil {
		return nil, err
	}
	return media.Crop(img, s.rect), nil
}
