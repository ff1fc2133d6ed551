package timeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"video-compare/internal/decoder"
	"video-compare/internal/logging"
	"video-compare/internal/media"
	"video-compare/internal/metrics"
)

// Source is the part of a decoder the synchronizer needs.
// *decoder.Adapter implements it.
type Source interface {
	Label() string
	Info() media.Info
	DecodeAt(ctx context.Context, ts time.Duration) (*media.Frame, error)
	FrameAtOrBefore(ts time.Duration) *media.Frame
	LastFrame() *media.Frame
	Prefetch(ts time.Duration)
}

// finalFramer is implemented by sources that know the last frame their
// stream actually delivered. *decoder.Adapter implements it.
type finalFramer interface {
	FinalFrame() *media.Frame
}

func finalOf(src Source) *media.Frame {
	if ff, ok := src.(finalFramer); ok {
		return ff.FinalFrame()
	}
	return nil
}

// Config configures a Synchronizer.
type Config struct {
	// Timeout bounds the wait for a frame that is not cached.
	Timeout time.Duration
}

// DefaultConfig returns the default synchronizer configuration.
func DefaultConfig() Config {
	return Config{Timeout: 200 * time.Millisecond}
}

// Synchronizer resolves frame pairs for two sources.
type Synchronizer struct {
	sources [2]Source
	cfg     Config
	log     *logging.Logger

	mu        sync.Mutex
	endFrames [2]*media.Frame
}

// New creates a synchronizer over two sources.
func New(sources [2]Source, cfg Config) *Synchronizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Synchronizer{
		sources: sources,
		cfg:     cfg,
		log:     logging.Component("timeline"),
	}
}

// Sources returns the synchronized sources.
func (s *Synchronizer) Sources() [2]Source { return s.sources }

// Timeout returns the configured per-source wait bound.
func (s *Synchronizer) Timeout() time.Duration { return s.cfg.Timeout }

// Resolve returns the frames due at clock. The two sources are resolved
// concurrently and each waits at most the configured timeout, so Resolve
// returns within about one timeout even if a decoder is stuck.
func (s *Synchronizer) Resolve(ctx context.Context, clock time.Duration, offsets [2]time.Duration) FramePair {
	start := time.Now()
	defer func() {
		metrics.SyncResolveDuration.Observe(time.Since(start).Seconds())
	}()

	pair := FramePair{Clock: clock}
	var wg sync.WaitGroup
	for i := range s.sources {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair.Slots[i] = s.resolve(ctx, i, clock+offsets[i])
		}(i)
	}
	wg.Wait()
	return pair
}

func (s *Synchronizer) resolve(ctx context.Context, i int, local time.Duration) Slot {
	src := s.sources[i]
	info := src.Info()
	slot := Slot{Local: local}

	if local < 0 {
		slot.Status = BeforeStart
		src.Prefetch(0)
		return slot
	}
	if local >= info.Duration {
		slot.Status = Ended
		slot.Frame = s.endFrame(ctx, i)
		return slot
	}

	src.Prefetch(local)

	target := info.FrameIndex(local)
	if f := src.FrameAtOrBefore(local); f != nil && f.Seq == target {
		metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
		slot.Frame = f
		return slot
	}
	metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()

	dctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	f, err := src.DecodeAt(dctx, local)
	switch {
	case err == nil:
		slot.Frame = f
	case errors.Is(err, decoder.ErrEndOfStream):
		// metadata promised more frames than the stream holds
		slot.Status = Ended
		slot.Frame = s.endFrame(ctx, i)
	case decoder.IsFatal(err):
		slot.Status = Unavailable
		slot.Err = err
	case errors.Is(err, context.DeadlineExceeded):
		metrics.SyncTimeoutsTotal.WithLabelValues(src.Label()).Inc()
		s.log.Debug("%s: no frame for %v within %v", src.Label(), local, s.cfg.Timeout)
		s.fallback(&slot, src, ErrSyncTimeout)
	default:
		s.fallback(&slot, src, err)
	}
	return slot
}

// fallback fills slot with the most recent frame at or before its local
// time, or marks it Unavailable when there is none.
func (s *Synchronizer) fallback(slot *Slot, src Source, err error) {
	slot.Err = err
	f := src.FrameAtOrBefore(slot.Local)
	if f == nil {
		f = src.LastFrame()
	}
	if f == nil {
		slot.Status = Unavailable
		return
	}
	slot.Status = Stale
	slot.Frame = f
}

// endFrame returns the final frame of source i, decoding it once on first
// use.
func (s *Synchronizer) endFrame(ctx context.Context, i int) *media.Frame {
	s.mu.Lock()
	f := s.endFrames[i]
	s.mu.Unlock()
	if f != nil {
		return f
	}

	src := s.sources[i]
	info := src.Info()
	last := info.LastPTS()

	if c := src.FrameAtOrBefore(last); c != nil && c.Seq == info.Frames-1 {
		f = c
	} else {
		dctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		decoded, err := src.DecodeAt(dctx, last)
		cancel()
		switch {
		case err == nil:
			f = decoded
		case errors.Is(err, decoder.ErrEndOfStream) && finalOf(src) != nil:
			// the stream ended before the frame count in its metadata
			f = finalOf(src)
		default:
			// Not remembered; a later tick may still get the real frame.
			return src.LastFrame()
		}
	}

	s.mu.Lock()
	s.endFrames[i] = f
	s.mu.Unlock()
	return f
}
