package decoder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video-compare/internal/media"
)

// SampleFrames decodes up to n frames starting at start and spaced step
// apart, on a stream of its own so that no adapter's position or cache is
// disturbed. Fewer than n frames are returned when the source ends first.
func SampleFrames(ctx context.Context, backend Backend, info media.Info, start, step time.Duration, n int) ([]*media.Frame, error) {
	if n <= 0 {
		return nil, nil
	}
	if step <= 0 {
		return nil, fmt.Errorf("sample step must be positive, got %v", step)
	}
	if start < 0 {
		start = 0
	}

	first := info.FrameIndex(start)
	stream, err := backend.OpenStream(info, info.FramePTS(first), StreamOptions{Threads: 1})
	if err != nil {
		return nil, fmt.Errorf("open sample stream: %w", err)
	}
	defer stream.Close()

	frames := make([]*media.Frame, 0, n)
	want := start
	for seq := first; seq < info.Frames && len(frames) < n && want < info.Duration; seq++ {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		img, err := stream.ReadFrame()
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		if err != nil {
			// A sample that cannot be decoded is skipped, not fatal.
			continue
		}

		pts := info.FramePTS(seq)
		if info.FrameIndex(want) > seq {
			continue
		}
		frames = append(frames, &media.Frame{PTS: pts, Seq: seq, Image: img})
		want += step
	}
	return frames, nil
}
