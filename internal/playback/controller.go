package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"video-compare/internal/compositor"
	"video-compare/internal/decoder"
	"video-compare/internal/logging"
	"video-compare/internal/metrics"
	"video-compare/internal/timeline"
)

// Config configures a Controller.
type Config struct {
	// MaxTickRate caps the render rate in ticks per second.
	MaxTickRate float64

	EndPolicy EndPolicy
	Mode      compositor.Mode

	// Params holds the initial overlay and wipe settings plus the fixed
	// layout options (gap, background, badges).
	Params compositor.Params

	Offsets [2]time.Duration
	Speed   float64

	// EventBuffer bounds the error-event channel. Events are dropped when
	// it is full.
	EventBuffer int

	Clock Clock
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		MaxTickRate: 60,
		EndPolicy:   EndHoldLast,
		Mode:        compositor.SideBySide,
		Params:      compositor.DefaultParams(),
		Speed:       1,
		EventBuffer: 16,
		Clock:       DefaultClock(),
	}
}

type command struct {
	apply func() error
	reply chan error
}

// Controller runs the render loop of one session.
type Controller struct {
	cfg      Config
	syncer   *timeline.Synchronizer
	comp     *compositor.Compositor
	clock    Clock
	log      *logging.Logger
	interval time.Duration

	cmds   chan command
	frames chan Output
	events chan ErrorEvent

	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	snapshot     atomic.Pointer[SyncState]
	droppedTicks atomic.Uint64

	evMu     sync.RWMutex
	evClosed bool

	// owned by the loop goroutine
	state      SyncState
	anchorWall time.Time
	anchorPos  time.Duration
	next       time.Time
	timer      *time.Timer
	seq        uint64
	dirty      bool
	lastStatus [2]timeline.Status
}

// New creates a controller and starts its loop. The first frame (clock 0,
// Stopped) is rendered immediately.
func New(syncer *timeline.Synchronizer, comp *compositor.Compositor, cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.MaxTickRate <= 0 {
		cfg.MaxTickRate = def.MaxTickRate
	}
	if cfg.Speed <= 0 {
		cfg.Speed = def.Speed
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		syncer:   syncer,
		comp:     comp,
		clock:    cfg.Clock,
		log:      logging.Component("playback"),
		interval: tickInterval(syncer, cfg.MaxTickRate),
		cmds:     make(chan command),
		frames:   make(chan Output, 1),
		events:   make(chan ErrorEvent, cfg.EventBuffer),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		timer:    time.NewTimer(time.Hour),
	}
	c.timer.Stop()

	c.state = SyncState{
		State:     Stopped,
		Offsets:   cfg.Offsets,
		Speed:     cfg.Speed,
		Mode:      cfg.Mode,
		Threshold: cfg.Params.Threshold,
		ColorMap:  cfg.Params.ColorMap,
		Division:  compositor.ClampDivision(cfg.Params.Division),
		EndPolicy: cfg.EndPolicy,
	}
	c.state.Duration = c.duration(c.state.Offsets)
	for i := range c.lastStatus {
		c.lastStatus[i] = timeline.Available
	}
	c.publish()

	go c.run()
	return c
}

// tickInterval is one frame of the faster source, no shorter than
// 1/maxRate.
func tickInterval(s *timeline.Synchronizer, maxRate float64) time.Duration {
	fps := 0.0
	for _, src := range s.Sources() {
		fps = max(fps, src.Info().FrameRate)
	}
	if fps <= 0 || fps > maxRate {
		fps = maxRate
	}
	return time.Duration(float64(time.Second) / fps)
}

// duration is the clock value at which the later source ends.
func (c *Controller) duration(offsets [2]time.Duration) time.Duration {
	var d time.Duration
	for i, src := range c.syncer.Sources() {
		d = max(d, src.Info().Duration-offsets[i])
	}
	return d
}

// Interval returns the render tick interval.
func (c *Controller) Interval() time.Duration { return c.interval }

// DroppedTicks returns how many ticks were skipped for running late.
func (c *Controller) DroppedTicks() uint64 { return c.droppedTicks.Load() }

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() SyncState {
	return *c.snapshot.Load()
}

// Frames delivers composed output. The channel holds one value; an unread
// output is replaced by the next. It is closed by Close.
func (c *Controller) Frames() <-chan Output { return c.frames }

// Errors delivers non-fatal problems. It is closed by Close.
func (c *Controller) Errors() <-chan ErrorEvent { return c.events }

// Report queues an event without blocking; it is dropped if the channel is
// full or the controller is closed.
func (c *Controller) Report(ev ErrorEvent) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Err != nil && ev.Message == "" {
		ev.Message = ev.Err.Error()
	}

	c.evMu.RLock()
	defer c.evMu.RUnlock()
	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		metrics.SessionEventsDroppedTotal.Inc()
	}
}

// Close stops the loop and waits for it to exit. In-flight decode waits are
// cancelled.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.cancel()
		<-c.done
		close(c.frames)

		c.evMu.Lock()
		c.evClosed = true
		close(c.events)
		c.evMu.Unlock()
	})
	return nil
}

// do runs fn on the loop goroutine and returns its result.
func (c *Controller) do(fn func() error) error {
	cmd := command{apply: fn, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.stop:
		return ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Controller) run() {
	defer close(c.done)
	defer c.timer.Stop()

	c.render()
	for {
		var tick <-chan time.Time
		if c.state.State == Playing {
			tick = c.timer.C
		}

		select {
		case <-c.stop:
			if c.state.State == Playing {
				metrics.SessionsPlaying.Dec()
			}
			return
		case cmd := <-c.cmds:
			cmd.reply <- cmd.apply()
		case <-tick:
			c.tick()
		}

		if c.dirty {
			c.dirty = false
			c.render()
		}
	}
}

func (c *Controller) tick() {
	start := time.Now()
	if late := start.Sub(c.next); late > c.interval {
		c.droppedTicks.Add(1)
		metrics.RenderDroppedTicksTotal.Inc()
		c.next = start.Add(c.interval)
		c.timer.Reset(c.interval)
		return
	}

	c.next = c.next.Add(c.interval)
	c.render()
	metrics.RenderTickDuration.Observe(time.Since(start).Seconds())

	if c.state.State == Playing {
		c.timer.Reset(max(time.Until(c.next), 0))
	}
}

// position is the virtual clock while playing. It never goes backwards.
func (c *Controller) position() time.Duration {
	elapsed := c.clock.Now().Sub(c.anchorWall)
	pos := c.anchorPos + time.Duration(float64(elapsed)*c.state.Speed)
	return max(pos, c.state.Clock)
}

func (c *Controller) anchor() {
	c.anchorWall = c.clock.Now()
	c.anchorPos = c.state.Clock
}

func (c *Controller) startTicking() {
	c.next = time.Now()
	c.timer.Reset(0)
}

func (c *Controller) setState(s State) {
	if s == c.state.State {
		return
	}
	if s == Playing {
		metrics.SessionsPlaying.Inc()
	} else if c.state.State == Playing {
		metrics.SessionsPlaying.Dec()
		c.timer.Stop()
	}
	c.state.State = s
	c.state.Rate = 0
	if s == Playing {
		c.state.Rate = c.state.Speed
	}
}

func (c *Controller) publish() {
	st := c.state
	c.snapshot.Store(&st)
}

// render resolves and composes the pair at the current clock and publishes
// it.
func (c *Controller) render() {
	if c.state.State == Playing {
		c.state.Clock = min(c.position(), c.state.Duration)
	}
	st := c.state

	pair := c.syncer.Resolve(c.ctx, st.Clock, st.Offsets)
	res := c.comp.Compose(pair, st.Mode, st.params(c.cfg.Params))
	c.observe(pair)

	if c.state.State == Playing && c.atEnd(pair) {
		c.log.Debug("end of sources at %v (%s), pausing", st.Clock, st.EndPolicy)
		c.setState(Paused)
	}
	c.publish()

	c.seq++
	c.emit(Output{
		Image:  res.Image,
		Clock:  st.Clock,
		AStale: pair.A().Degraded(),
		BStale: pair.B().Degraded(),
		AEnded: pair.A().Status == timeline.Ended,
		BEnded: pair.B().Status == timeline.Ended,
		State:  c.state.State,
		Mode:   st.Mode,
		Diff:   res.Diff,
		Seq:    c.seq,
	})
	metrics.RenderTicksTotal.Inc()
}

// atEnd applies the end policy to a resolved pair. A source that failed
// fatally counts as ended.
func (c *Controller) atEnd(pair timeline.FramePair) bool {
	var ended [2]bool
	for i, s := range pair.Slots {
		ended[i] = s.Status == timeline.Ended ||
			(s.Status == timeline.Unavailable && decoder.IsFatal(s.Err))
	}
	if c.state.EndPolicy == EndPauseAtShorter {
		return ended[0] || ended[1]
	}
	return ended[0] && ended[1]
}

// observe reports slots that turned stale or unavailable.
func (c *Controller) observe(pair timeline.FramePair) {
	for i, s := range pair.Slots {
		prev := c.lastStatus[i]
		c.lastStatus[i] = s.Status
		if s.Status == prev {
			continue
		}

		label := c.syncer.Sources()[i].Label()
		switch s.Status {
		case timeline.Stale:
			c.Report(ErrorEvent{Kind: EventSyncTimeout, Source: label, Clock: pair.Clock, Err: s.Err})
		case timeline.Unavailable:
			kind := EventUnavailable
			if errors.Is(s.Err, timeline.ErrSyncTimeout) {
				kind = EventSyncTimeout
			}
			c.Report(ErrorEvent{Kind: kind, Source: label, Clock: pair.Clock, Err: s.Err})
		}
	}
}

// emit delivers out, replacing an unread older output.
func (c *Controller) emit(out Output) {
	select {
	case c.frames <- out:
		return
	default:
	}
	select {
	case <-c.frames:
		metrics.OutputOverwritesTotal.Inc()
	default:
	}
	select {
	case c.frames <- out:
	default:
	}
}
