package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"video-compare/internal/decoder"
	"video-compare/internal/media"
	"video-compare/internal/timeline"
)

// OffsetMethod selects how AutoOffset estimates the offset of source B.
type OffsetMethod string

const (
	// OffsetByDuration aligns the ends of both sources.
	OffsetByDuration OffsetMethod = "duration"
	// OffsetByContent matches sampled pictures of both sources.
	OffsetByContent OffsetMethod = "content"
)

// ParseOffsetMethod parses "duration" or "content".
func ParseOffsetMethod(s string) (OffsetMethod, error) {
	switch m := OffsetMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case OffsetByDuration, OffsetByContent:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown offset method %q", ErrInvalidArgument, s)
}

const (
	sampleStep    = 200 * time.Millisecond
	maxSamples    = 60
	maxProbeShift = 5 * time.Second
)

// AutoOffset estimates the offset of B relative to A, applies it and
// returns it.
func (s *Session) AutoOffset(ctx context.Context, method OffsetMethod) (time.Duration, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	infos := s.Sources()
	var offset time.Duration
	switch method {
	case OffsetByDuration:
		offset = timeline.EstimateOffsetByDuration(infos[0], infos[1])
	case OffsetByContent:
		est, err := s.estimateByContent(ctx, infos)
		if err != nil {
			return 0, err
		}
		s.log.Info("Content offset %v (distance %.2f over %d samples)", est.Offset, est.Distance, est.Overlap)
		offset = est.Offset
	default:
		return 0, fmt.Errorf("%w: unknown offset method %q", ErrInvalidArgument, method)
	}

	if err := s.SetOffset(offset); err != nil {
		return 0, err
	}
	return offset, nil
}

func (s *Session) estimateByContent(ctx context.Context, infos [2]media.Info) (timeline.Estimate, error) {
	n := int(min(infos[0].Duration, infos[1].Duration) / sampleStep)
	n = min(n, maxSamples)
	if n < timeline.MinOverlap {
		return timeline.Estimate{}, timeline.ErrNotEnoughFrames
	}
	maxShift := min(maxProbeShift, time.Duration(n-timeline.MinOverlap)*sampleStep)

	var (
		wg      sync.WaitGroup
		samples [2][]*media.Frame
		errs    [2]error
	)
	for i := range infos {
		wg.Add(1)
		go func() {
			defer wg.Done()
			samples[i], errs[i] = decoder.SampleFrames(ctx, s.backends[i], infos[i], 0, sampleStep, n)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return timeline.Estimate{}, fmt.Errorf("sampling source %s: %w", s.adapters[i].Label(), err)
		}
	}

	return timeline.EstimateOffsetByContent(ctx, samples[0], samples[1], sampleStep, maxShift)
}
