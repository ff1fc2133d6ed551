package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"video-compare/internal/compositor"
	"video-compare/internal/decoder"
	"video-compare/internal/logging"
	"video-compare/internal/media"
	"video-compare/internal/metrics"
	"video-compare/internal/playback"
	"video-compare/internal/timeline"
)

var (
	// ErrClosed is returned by commands on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrInvalidArgument is returned for out-of-range command arguments.
	ErrInvalidArgument = playback.ErrInvalidArgument

	// ErrNotFound is returned by the Manager for unknown session ids.
	ErrNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = fmt.Errorf("%w: too many open sessions", playback.ErrResourceExhausted)
)

// Config configures a session.
type Config struct {
	// Decoder is the template for both adapters; Label and OnError are set
	// per source.
	Decoder  decoder.Config
	Sync     timeline.Config
	Playback playback.Config

	// Backend decodes file refs. Synthetic refs always use the synthetic
	// backend.
	Backend decoder.Backend

	// EventBuffer bounds each event subscription.
	EventBuffer int

	// PressureKeep is the number of frames each cache keeps when memory
	// runs short.
	PressureKeep int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Decoder:      decoder.DefaultConfig(""),
		Sync:         timeline.DefaultConfig(),
		Playback:     playback.DefaultConfig(),
		EventBuffer:  32,
		PressureKeep: 8,
	}
}

// Session is one open comparison.
type Session struct {
	id      string
	refs    [2]string
	created time.Time
	cfg     Config
	log     *logging.Logger

	backends [2]decoder.Backend
	adapters [2]*decoder.Adapter
	ctrl     atomic.Pointer[playback.Controller]

	latest atomic.Pointer[playback.Output]

	subMu     sync.Mutex
	frameSubs map[int]chan playback.Output
	eventSubs map[int]chan playback.ErrorEvent
	nextSub   int
	subClosed bool

	closeOnce sync.Once
	closed    atomic.Bool
	fanDone   chan struct{}
}

// OpenSources opens refA and refB and starts the session. Both sources are
// probed concurrently; if either fails nothing is started and the error
// wraps decoder.ErrUnreadableSource.
func OpenSources(ctx context.Context, refA, refB string, cfg Config) (*Session, error) {
	backends := [2]decoder.Backend{backendFor(refA, cfg), backendFor(refB, cfg)}
	return open(ctx, [2]string{refA, refB}, backends, cfg)
}

// OpenSplit opens a single file whose frames hold source A in the left half
// and source B in the right half.
func OpenSplit(ctx context.Context, ref string, cfg Config) (*Session, error) {
	b := backendFor(ref, cfg)
	backends := [2]decoder.Backend{
		decoder.HalfView{Backend: b, Side: decoder.LeftHalf},
		decoder.HalfView{Backend: b, Side: decoder.RightHalf},
	}
	return open(ctx, [2]string{ref, ref}, backends, cfg)
}

func backendFor(ref string, cfg Config) decoder.Backend {
	switch {
	case decoder.IsSynthetic(ref):
		return decoder.Synthetic{}
	case cfg.Backend != nil:
		return cfg.Backend
	default:
		return decoder.NewFFmpeg("", "")
	}
}

func open(ctx context.Context, refs [2]string, backends [2]decoder.Backend, cfg Config) (*Session, error) {
	def := DefaultConfig()
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.PressureKeep <= 0 {
		cfg.PressureKeep = def.PressureKeep
	}

	s := &Session{
		id:        uuid.NewString(),
		refs:      refs,
		backends:  backends,
		created:   time.Now(),
		cfg:       cfg,
		frameSubs: make(map[int]chan playback.Output),
		eventSubs: make(map[int]chan playback.ErrorEvent),
		fanDone:   make(chan struct{}),
	}
	s.log = logging.Component("session").With(s.id[:8])

	var (
		wg   sync.WaitGroup
		errs [2]error
	)
	for i := range refs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dc := cfg.Decoder
			dc.Label = metrics.Sources[i]
			dc.OnError = func(err error) { s.reportDecode(dc.Label, err) }
			s.adapters[i], errs[i] = decoder.Open(ctx, backends[i], refs[i], dc)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs[0], errs[1]); err != nil {
		for _, a := range s.adapters {
			if a != nil {
				a.Close()
			}
		}
		status := "error"
		if errors.Is(err, decoder.ErrUnreadableSource) {
			status = "unreadable"
		}
		metrics.SessionsOpenedTotal.WithLabelValues(status).Inc()
		return nil, fmt.Errorf("opening sources: %w", err)
	}

	for _, a := range s.adapters {
		a.Start()
	}

	var sources [2]timeline.Source
	var sizes [2]image.Point
	for i, a := range s.adapters {
		sources[i] = a
		sizes[i] = image.Pt(a.Info().Width, a.Info().Height)
	}
	syncer := timeline.New(sources, cfg.Sync)
	ctrl := playback.New(syncer, compositor.New(sizes[0], sizes[1]), cfg.Playback)
	s.ctrl.Store(ctrl)

	go s.fanOut(ctrl)

	metrics.SessionsOpenedTotal.WithLabelValues("success").Inc()
	a, b := s.adapters[0].Info(), s.adapters[1].Info()
	s.log.Info("Opened %s (%dx%d %.3gfps %v) vs %s (%dx%d %.3gfps %v), tick %v",
		refs[0], a.Width, a.Height, a.FrameRate, a.Duration,
		refs[1], b.Width, b.Height, b.FrameRate, b.Duration, ctrl.Interval())
	return s, nil
}

func (s *Session) reportDecode(label string, err error) {
	if c := s.ctrl.Load(); c != nil {
		c.Report(playback.ErrorEvent{Kind: playback.EventDecode, Source: label, Err: err})
	}
}

// fanOut copies controller output to subscribers until the controller closes.
func (s *Session) fanOut(ctrl *playback.Controller) {
	defer close(s.fanDone)

	frames, events := ctrl.Frames(), ctrl.Errors()
	for frames != nil || events != nil {
		select {
		case out, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			s.latest.Store(&out)
			s.subMu.Lock()
			for _, ch := range s.frameSubs {
				replace(ch, out)
			}
			s.subMu.Unlock()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.log.Debug("Event %s on %q: %s", ev.Kind, ev.Source, ev.Message)
			s.subMu.Lock()
			for _, ch := range s.eventSubs {
				select {
				case ch <- ev:
				default:
					metrics.SessionEventsDroppedTotal.Inc()
				}
			}
			s.subMu.Unlock()
		}
	}

	s.subMu.Lock()
	s.subClosed = true
	for id, ch := range s.frameSubs {
		close(ch)
		delete(s.frameSubs, id)
	}
	for id, ch := range s.eventSubs {
		close(ch)
		delete(s.eventSubs, id)
	}
	s.subMu.Unlock()
}

// replace puts out into a one-slot channel, discarding an unread value.
func replace(ch chan playback.Output, out playback.Output) {
	select {
	case ch <- out:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- out:
	default:
	}
}

// Subscribe returns a channel of composed outputs. Only the latest unread
// output is kept. The channel is closed by cancel or when the session
// closes.
func (s *Session) Subscribe() (<-chan playback.Output, func()) {
	ch := make(chan playback.Output, 1)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.frameSubs[id] = ch
	if out := s.latest.Load(); out != nil {
		ch <- *out
	}
	return ch, func() { s.unsubscribe(id) }
}

// Events returns a channel of error events. Events are dropped for a
// subscriber that falls behind.
func (s *Session) Events() (<-chan playback.ErrorEvent, func()) {
	ch := make(chan playback.ErrorEvent, s.cfg.EventBuffer)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subClosed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.eventSubs[id] = ch
	return ch, func() { s.unsubscribe(id) }
}

func (s *Session) unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.frameSubs[id]; ok {
		close(ch)
		delete(s.frameSubs, id)
	}
	if ch, ok := s.eventSubs[id]; ok {
		close(ch)
		delete(s.eventSubs, id)
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Refs returns the refs the session was opened with.
func (s *Session) Refs() [2]string { return s.refs }

// Created returns when the session was opened.
func (s *Session) Created() time.Time { return s.created }

// Sources returns the metadata of both sources.
func (s *Session) Sources() [2]media.Info {
	return [2]media.Info{s.adapters[0].Info(), s.adapters[1].Info()}
}

// Latest returns the most recent output, if any.
func (s *Session) Latest() (playback.Output, bool) {
	out := s.latest.Load()
	if out == nil {
		return playback.Output{}, false
	}
	return *out, true
}

// State returns a copy of the playback state.
func (s *Session) State() playback.SyncState {
	return s.ctrl.Load().Snapshot()
}

// CacheStats sums frame and byte counts of both caches.
func (s *Session) CacheStats() (frames int, bytes int64) {
	for _, a := range s.adapters {
		st := a.Cache().Stats()
		frames += st.Len
		bytes += st.Bytes
	}
	return frames, bytes
}

// relieve shrinks both frame caches and reports the pressure as an event.
func (s *Session) relieve(usage float64) {
	if s.closed.Load() {
		return
	}
	var evicted int
	for _, a := range s.adapters {
		evicted += a.Cache().Shrink(s.cfg.PressureKeep)
	}
	s.log.Warn("Memory at %.0f%% of limit, evicted %d cached frames", usage*100, evicted)
	s.ctrl.Load().Report(playback.ErrorEvent{
		Kind: playback.EventResourceExhausted,
		Err:  fmt.Errorf("%w: memory at %.0f%% of limit", playback.ErrResourceExhausted, usage*100),
	})
}

// Close stops playback and releases both sources. It blocks until every
// decode worker has exited.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.ctrl.Load().Close()
		<-s.fanDone
		for _, a := range s.adapters {
			a.Close()
		}
		s.log.Info("Closed")
	})
	return nil
}

func (s *Session) command(err error) error {
	if errors.Is(err, playback.ErrClosed) {
		return ErrClosed
	}
	return err
}

// Play starts or resumes playback.
func (s *Session) Play() error { return s.command(s.ctrl.Load().Play()) }

// Pause freezes playback. It is idempotent.
func (s *Session) Pause() error { return s.command(s.ctrl.Load().Pause()) }

// Stop rewinds to the start.
func (s *Session) Stop() error { return s.command(s.ctrl.Load().Stop()) }

// Seek moves the clock to ts.
func (s *Session) Seek(ts time.Duration) error { return s.command(s.ctrl.Load().Seek(ts)) }

// Step moves n frames of source A while paused.
func (s *Session) Step(n int) error { return s.command(s.ctrl.Load().Step(n)) }

// SetMode switches between side-by-side, overlay and wipe.
func (s *Session) SetMode(m compositor.Mode) error { return s.command(s.ctrl.Load().SetMode(m)) }

// SetOverlayParams sets the difference threshold and colour map.
func (s *Session) SetOverlayParams(threshold uint8, cm compositor.ColorMap) error {
	return s.command(s.ctrl.Load().SetOverlay(threshold, cm))
}

// SetOffset sets the offset of source B relative to A.
func (s *Session) SetOffset(d time.Duration) error { return s.command(s.ctrl.Load().SetOffset(d)) }

// SetDivision moves the wipe divider.
func (s *Session) SetDivision(d float64) error { return s.command(s.ctrl.Load().SetDivision(d)) }

// SetSpeed sets the playback speed multiplier.
func (s *Session) SetSpeed(v float64) error { return s.command(s.ctrl.Load().SetSpeed(v)) }

// SetEndPolicy sets what happens when the sources run out.
func (s *Session) SetEndPolicy(p playback.EndPolicy) error {
	return s.command(s.ctrl.Load().SetEndPolicy(p))
}
