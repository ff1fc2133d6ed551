package decoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"video-compare/internal/framecache"
	"video-compare/internal/logging"
	"video-compare/internal/media"
	"video-compare/internal/metrics"
)

// Throttler reports memory pressure. *memory.Monitor implements it.
type Throttler interface {
	ShouldThrottle() bool
}

// Config configures an Adapter.
type Config struct {
	// Label names the source in logs and metrics ("a" or "b").
	Label string

	// CacheDuration sizes the frame cache.
	CacheDuration time.Duration

	// RunAhead is how far past the most recent request frames are decoded
	// and cached in the background.
	RunAhead time.Duration

	// ReopenGap is the largest forward jump served by decoding and
	// discarding instead of reopening the stream.
	ReopenGap time.Duration

	// KeepBehind is how much history behind the most recent request is kept.
	KeepBehind time.Duration

	// MailboxSize bounds queued decode requests.
	MailboxSize int

	// Threads is passed to the backend stream (0 = backend default).
	Threads int

	// Throttle, when set and under pressure, suspends decode-ahead.
	Throttle Throttler

	// OnError receives per-frame decode errors. It is called from the
	// worker goroutine and must not block.
	OnError func(error)
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig(label string) Config {
	return Config{
		Label:         label,
		CacheDuration: 2 * time.Second,
		RunAhead:      500 * time.Millisecond,
		ReopenGap:     2 * time.Second,
		KeepBehind:    time.Second,
		MailboxSize:   4,
	}
}

type requestKind int

const (
	requestAt requestKind = iota
	requestNext
)

type request struct {
	ctx   context.Context
	kind  requestKind
	ts    time.Duration
	reply chan result
}

type result struct {
	frame *media.Frame
	err   error
}

// Adapter decodes one source.
type Adapter struct {
	cfg     Config
	backend Backend
	info    media.Info
	cache   *framecache.Cache
	log     *logging.Logger

	requests chan request
	prefetch chan time.Duration
	stop     chan struct{}
	done     chan struct{}

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once

	last  atomic.Pointer[media.Frame]
	final atomic.Pointer[media.Frame]

	// owned by the worker goroutine
	stream   Stream
	next     int64
	ended    bool
	endSeq   int64
	lastGood *media.Frame
	hint     time.Duration
	hasHint  bool
}

// Open probes ref with backend. It starts nothing; call Start to begin
// decoding. Probe failures match ErrUnreadableSource.
func Open(ctx context.Context, backend Backend, ref string, cfg Config) (*Adapter, error) {
	info, err := backend.Probe(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrUnreadableSource) {
			return nil, err
		}
		return nil, &SourceError{Ref: ref, Reason: "probe failed", Err: err}
	}
	return NewAdapter(backend, info, cfg), nil
}

// NewAdapter creates an adapter for already-probed metadata.
func NewAdapter(backend Backend, info media.Info, cfg Config) *Adapter {
	def := DefaultConfig(cfg.Label)
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = def.CacheDuration
	}
	if cfg.RunAhead < 0 {
		cfg.RunAhead = 0
	}
	if cfg.ReopenGap <= 0 {
		cfg.ReopenGap = def.ReopenGap
	}
	if cfg.KeepBehind <= 0 {
		cfg.KeepBehind = def.KeepBehind
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if cfg.Label == "" {
		cfg.Label = info.ID
	}

	return &Adapter{
		cfg:      cfg,
		backend:  backend,
		info:     info,
		cache:    framecache.NewForDuration(cfg.CacheDuration, info.FrameRate),
		log:      logging.Component("decoder").With(cfg.Label),
		requests: make(chan request, cfg.MailboxSize),
		prefetch: make(chan time.Duration, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		endSeq:   info.Frames,
	}
}

// Info returns the source metadata.
func (a *Adapter) Info() media.Info { return a.info }

// Label returns the configured source label.
func (a *Adapter) Label() string { return a.cfg.Label }

// Cache returns the adapter's frame cache.
func (a *Adapter) Cache() *framecache.Cache { return a.cache }

// Started reports whether the decode worker has been started.
func (a *Adapter) Started() bool { return a.started.Load() }

// Start launches the decode worker. Calls after the first are no-ops.
func (a *Adapter) Start() {
	if a.closed.Load() {
		return
	}
	a.startOnce.Do(func() {
		a.started.Store(true)
		go a.run()
	})
}

// Close stops the worker, closes the decode stream and waits for both.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.closed.Store(true)
		close(a.stop)
		if a.started.Load() {
			<-a.done
		}
		a.log.Debug("closed")
	})
	return nil
}

// DecodeAt returns the frame presented at ts, blocking until it is decoded
// or ctx ends.
func (a *Adapter) DecodeAt(ctx context.Context, ts time.Duration) (*media.Frame, error) {
	return a.call(ctx, request{ctx: ctx, kind: requestAt, ts: ts})
}

// DecodeNext returns the frame after the last one decoded.
func (a *Adapter) DecodeNext(ctx context.Context) (*media.Frame, error) {
	return a.call(ctx, request{ctx: ctx, kind: requestNext})
}

func (a *Adapter) call(ctx context.Context, req request) (*media.Frame, error) {
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if !a.started.Load() {
		return nil, ErrNotStarted
	}

	req.reply = make(chan result, 1)
	select {
	case a.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stop:
		return nil, ErrClosed
	}

	select {
	case res := <-req.reply:
		return res.frame, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.done:
		return nil, ErrClosed
	}
}

// Prefetch hints that frames around ts will be needed soon. It never
// blocks; a newer hint replaces an unconsumed older one.
func (a *Adapter) Prefetch(ts time.Duration) {
	if !a.started.Load() || a.closed.Load() {
		return
	}
	for {
		select {
		case a.prefetch <- ts:
			return
		default:
		}
		select {
		case <-a.prefetch:
		default:
		}
	}
}

// FrameAtOrBefore looks ts up in the cache without decoding.
func (a *Adapter) FrameAtOrBefore(ts time.Duration) *media.Frame {
	return a.cache.GetAtOrBefore(ts)
}

// LastFrame returns the most recently decoded (or substituted) frame.
func (a *Adapter) LastFrame() *media.Frame {
	return a.last.Load()
}

// FinalFrame returns the last frame the stream actually delivered before
// ending, or nil until a stream has been read to its end.
func (a *Adapter) FinalFrame() *media.Frame {
	return a.final.Load()
}

func (a *Adapter) run() {
	defer close(a.done)
	defer a.closeStream()

	for {
		select {
		case <-a.stop:
			return
		default:
		}

		if a.wantsAhead() {
			select {
			case <-a.stop:
				return
			case req := <-a.requests:
				a.serve(req)
			case ts := <-a.prefetch:
				a.setHint(ts)
			default:
				a.decodeAhead()
			}
			continue
		}

		select {
		case <-a.stop:
			return
		case req := <-a.requests:
			a.serve(req)
		case ts := <-a.prefetch:
			a.setHint(ts)
		}
	}
}

func (a *Adapter) serve(req request) {
	var res result
	// the caller gave up while the request was queued
	if err := req.ctx.Err(); err != nil {
		req.reply <- result{err: err}
		return
	}
	switch req.kind {
	case requestAt:
		res.frame, res.err = a.frameAt(req.ts)
		if res.err == nil {
			a.setHint(req.ts)
		}
	case requestNext:
		res.frame, res.err = a.nextFrame()
	}
	req.reply <- res
}

func (a *Adapter) setHint(ts time.Duration) {
	if ts < 0 {
		ts = 0
	}
	a.hint, a.hasHint = ts, true
	a.cache.EvictOlderThan(ts - a.cfg.KeepBehind)

	// A hint outside the reachable window repositions the stream now so
	// that decode-ahead works toward it.
	if ts >= a.info.Duration {
		return
	}
	target := a.info.FrameIndex(ts)
	if target >= a.endSeq {
		return
	}
	if f := a.cache.GetAtOrBefore(ts); f != nil && f.Seq == target {
		return
	}
	if !a.reachable(target) {
		if err := a.reopen(target); err != nil {
			a.log.Warn("prefetch reopen at %v failed: %v", ts, err)
		}
	}
}

// wantsAhead reports whether background decoding has work to do. Frames
// are only decoded ahead while the hinted frame still fits in the cache
// alongside them, so a shrunken cache never evicts the frame the clock is on.
func (a *Adapter) wantsAhead() bool {
	if !a.hasHint || a.ended || a.stream == nil || a.next >= a.endSeq {
		return false
	}
	horizon := a.hint + a.cfg.RunAhead
	if a.cfg.Throttle != nil && a.cfg.Throttle.ShouldThrottle() {
		horizon = a.hint
	}
	if a.next-a.info.FrameIndex(a.hint) >= int64(a.cache.Cap()) {
		return false
	}
	return a.info.FramePTS(a.next) <= horizon
}

func (a *Adapter) decodeAhead() {
	f, err := a.readOne()
	if err != nil {
		if !errors.Is(err, ErrEndOfStream) {
			a.log.Debug("decode-ahead stopped: %v", err)
		}
		return
	}
	a.cache.Put(f)
}

// reachable reports whether frame target can be reached by decoding forward
// on the current stream.
func (a *Adapter) reachable(target int64) bool {
	if a.stream == nil || a.ended || target < a.next {
		return false
	}
	return a.info.FramePTS(target)-a.info.FramePTS(a.next) <= a.cfg.ReopenGap
}

func (a *Adapter) frameAt(ts time.Duration) (*media.Frame, error) {
	if ts < 0 {
		ts = 0
	}
	if ts >= a.info.Duration {
		return nil, ErrEndOfStream
	}
	target := a.info.FrameIndex(ts)
	if target >= a.endSeq {
		return nil, ErrEndOfStream
	}

	if f := a.cache.GetAtOrBefore(ts); f != nil && f.Seq == target {
		return f, nil
	}

	if !a.reachable(target) {
		if err := a.reopen(target); err != nil {
			return nil, err
		}
	}

	for {
		f, err := a.readOne()
		if err != nil {
			return nil, err
		}
		a.cache.Put(f)
		// A backend that starts past the target returns its first frame.
		if f.Seq >= target {
			return f, nil
		}
	}
}

func (a *Adapter) nextFrame() (*media.Frame, error) {
	if a.stream == nil && !a.ended {
		if err := a.reopen(a.next); err != nil {
			return nil, err
		}
	}
	if a.ended || a.next >= a.endSeq {
		return nil, ErrEndOfStream
	}
	f, err := a.readOne()
	if err != nil {
		return nil, err
	}
	a.cache.Put(f)
	return f, nil
}

func (a *Adapter) reopen(target int64) error {
	if target < 0 {
		target = 0
	}
	a.closeStream()
	a.cache.Reset()

	start := a.info.FramePTS(target)
	stream, err := a.backend.OpenStream(a.info, start, StreamOptions{Threads: a.cfg.Threads})
	if err != nil {
		return a.fail(target, fmt.Errorf("reopen at %v: %w", start, err))
	}

	a.stream = stream
	a.next = target
	a.ended = false
	metrics.DecodeReopensTotal.WithLabelValues(a.cfg.Label).Inc()
	a.log.Debug("stream opened at frame %d (%v)", target, start)
	return nil
}

// fail converts an unrecoverable stream failure into a DecodeError.
func (a *Adapter) fail(seq int64, err error) error {
	de := &DecodeError{
		Source: a.cfg.Label,
		Seq:    seq,
		PTS:    a.info.FramePTS(seq),
		Fatal:  a.lastGood == nil,
		Err:    err,
	}
	if de.Fatal {
		metrics.DecodeErrorsTotal.WithLabelValues(a.cfg.Label, "fatal").Inc()
	} else {
		metrics.DecodeErrorsTotal.WithLabelValues(a.cfg.Label, "corrupt").Inc()
	}
	a.report(de)
	return de
}

// readOne reads the next frame from the stream, substituting the last good
// frame for one that fails to decode.
func (a *Adapter) readOne() (*media.Frame, error) {
	seq := a.next
	pts := a.info.FramePTS(seq)

	start := time.Now()
	img, err := a.stream.ReadFrame()
	metrics.DecodeLatency.WithLabelValues(a.cfg.Label).Observe(time.Since(start).Seconds())

	if err == nil {
		f := &media.Frame{PTS: pts, Seq: seq, Image: img}
		a.next++
		a.lastGood = f
		a.last.Store(f)
		metrics.DecodeFramesTotal.WithLabelValues(a.cfg.Label).Inc()
		return f, nil
	}

	var de *DecodeError
	if !errors.As(err, &de) {
		if errors.Is(err, ErrEndOfStream) {
			a.markEnd(seq)
			return nil, ErrEndOfStream
		}
		a.closeStream()
		return nil, a.fail(seq, err)
	}

	if errors.Is(err, ErrEndOfStream) {
		a.markEnd(seq)
		a.closeStream()
	} else {
		a.next++
	}

	if a.lastGood == nil {
		return nil, a.fail(seq, err)
	}

	metrics.DecodeErrorsTotal.WithLabelValues(a.cfg.Label, "corrupt").Inc()
	metrics.DecodeSubstitutedTotal.WithLabelValues(a.cfg.Label).Inc()
	a.log.Warn("frame %d (%v) failed to decode, showing frame %d: %v", seq, pts, a.lastGood.Seq, err)
	a.report(&DecodeError{Source: a.cfg.Label, Seq: seq, PTS: pts, Err: err})

	if a.ended {
		return nil, ErrEndOfStream
	}
	sub := a.lastGood.SubstituteAt(pts, seq)
	a.last.Store(sub)
	return sub, nil
}

// markEnd records that the current stream holds nothing at or after seq.
// Container metadata often overstates the frame count; remembering the real
// end keeps requests in that tail from reopening the stream every time.
func (a *Adapter) markEnd(seq int64) {
	a.ended = true
	if a.lastGood != nil && a.lastGood.Seq == seq-1 {
		a.final.Store(a.lastGood)
	}
	if seq >= a.endSeq {
		return
	}
	a.endSeq = seq
	if seq < a.info.Frames {
		a.log.Info("stream ended at frame %d, metadata reports %d", seq, a.info.Frames)
	}
}

func (a *Adapter) report(err error) {
	if a.cfg.OnError != nil {
		a.cfg.OnError(err)
	}
}

func (a *Adapter) closeStream() {
	if a.stream == nil {
		return
	}
	if err := a.stream.Close(); err != nil {
		a.log.Debug("stream close: %v", err)
	}
	a.stream = nil
}
