package timeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/corona10/goimagehash"

	"video-compare/internal/media"
)

// MinOverlap is the fewest frame pairs a candidate shift must compare to be
// considered by EstimateOffsetByContent.
const MinOverlap = 3

// ErrNotEnoughFrames is returned when the samples are too few to compare.
var ErrNotEnoughFrames = errors.New("not enough frames to estimate offset")

// EstimateOffsetByDuration returns the offset for b that makes both sources
// end together when a has offset zero.
func EstimateOffsetByDuration(a, b media.Info) time.Duration {
	return b.Duration - a.Duration
}

// Estimate is the result of a content-based offset search.
type Estimate struct {
	Offset time.Duration
	// Distance is the mean Hamming distance of the matched difference
	// hashes; 0 means identical pictures, 64 means opposite.
	Distance float64
	Overlap  int
}

// EstimateOffsetByContent searches for the offset of b relative to a that
// best lines up their pictures. a and b are frames sampled step apart (see
// decoder.SampleFrames); shifts of up to maxShift in either direction are
// tried and the one with the smallest mean difference-hash distance wins,
// preferring the smaller shift on ties.
func EstimateOffsetByContent(ctx context.Context, a, b []*media.Frame, step, maxShift time.Duration) (Estimate, error) {
	if step <= 0 {
		return Estimate{}, fmt.Errorf("step must be positive, got %v", step)
	}
	if len(a) < MinOverlap || len(b) < MinOverlap {
		return Estimate{}, ErrNotEnoughFrames
	}

	ha, err := hashFrames(a)
	if err != nil {
		return Estimate{}, err
	}
	hb, err := hashFrames(b)
	if err != nil {
		return Estimate{}, err
	}

	maxK := int(maxShift / step)
	best := Estimate{Distance: math.Inf(1)}
	bestK := 0
	found := false

	for k := 0; k <= maxK; k++ {
		for _, shift := range []int{k, -k} {
			if k == 0 && shift < 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return Estimate{}, err
			}

			mean, overlap, err := meanDistance(ha, hb, shift)
			if err != nil {
				return Estimate{}, err
			}
			if overlap < MinOverlap {
				continue
			}
			if !found || mean < best.Distance {
				found = true
				bestK = shift
				best.Distance = mean
				best.Overlap = overlap
			}
		}
	}
	if !found {
		return Estimate{}, ErrNotEnoughFrames
	}

	// b[i+k] matches a[i]: b's local time must run ahead of a's by the
	// difference of their timestamps.
	i, j := 0, bestK
	if bestK < 0 {
		i, j = -bestK, 0
	}
	best.Offset = b[j].PTS - a[i].PTS
	return best, nil
}

func hashFrames(frames []*media.Frame) ([]*goimagehash.ImageHash, error) {
	hashes := make([]*goimagehash.ImageHash, len(frames))
	for i, f := range frames {
		if f == nil || f.Image == nil {
			return nil, fmt.Errorf("frame %d has no image", i)
		}
		h, err := goimagehash.DifferenceHash(f.Image)
		if err != nil {
			return nil, fmt.Errorf("hash frame %d: %w", f.Seq, err)
		}
		hashes[i] = h
	}
	return hashes, nil
}

// meanDistance compares a[i] with b[i+shift] over the overlapping range.
func meanDistance(a, b []*goimagehash.ImageHash, shift int) (float64, int, error) {
	total, n := 0, 0
	for i := range a {
		j := i + shift
		if j < 0 || j >= len(b) {
			continue
		}
		d, err := a[i].Distance(b[j])
		if err != nil {
			return 0, 0, fmt.Errorf("error on distance: %w", err)
		}
		total += d
		n++
	}
	if n == 0 {
		return 0, 0, nil
	}
	return float64(total) / float64(n), n, nil
}
