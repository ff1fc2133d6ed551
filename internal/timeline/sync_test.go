package timeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"video-compare/internal/decoder"
	"video-compare/internal/media"
)

func openSource(t *testing.T, label, ref string) *decoder.Adapter {
	t.Helper()
	a, err := decoder.Open(context.Background(), decoder.Synthetic{}, ref, decoder.DefaultConfig(label))
	if err != nil {
		t.Fatalf("Open(%q) error = %v", ref, err)
	}
	a.Start()
	t.Cleanup(func() { a.Close() })
	return a
}

func newSync(t *testing.T, refA, refB string, cfg Config) *Synchronizer {
	t.Helper()
	return New([2]Source{openSource(t, "a", refA), openSource(t, "b", refB)}, cfg)
}

func TestResolveMixedFrameRates(t *testing.T) {
	s := newSync(t, "synthetic:?fps=30&dur=10s", "synthetic:?fps=25&dur=10s&seed=2", DefaultConfig())

	pair := s.Resolve(context.Background(), 5*time.Second, [2]time.Duration{})
	if pair.A().Status != Available || pair.B().Status != Available {
		t.Fatalf("statuses = %v, %v, want available", pair.A().Status, pair.B().Status)
	}
	if got := pair.A().Frame.Seq; got != 150 {
		t.Errorf("A frame = %d, want 150", got)
	}
	if got := pair.B().Frame.Seq; got != 125 {
		t.Errorf("B frame = %d, want 125", got)
	}
}

func TestResolveMonotonic(t *testing.T) {
	s := newSync(t, "synthetic:?fps=30&dur=3s", "synthetic:?fps=24&dur=3s", DefaultConfig())

	prev := [2]int64{-1, -1}
	for clock := time.Duration(0); clock < 2*time.Second; clock += 7 * time.Millisecond {
		pair := s.Resolve(context.Background(), clock, [2]time.Duration{})
		for i, slot := range pair.Slots {
			if slot.Status != Available {
				t.Fatalf("clock %v slot %d status = %v", clock, i, slot.Status)
			}
			if slot.Frame.Seq < prev[i] {
				t.Fatalf("clock %v slot %d went back from frame %d to %d", clock, i, prev[i], slot.Frame.Seq)
			}
			if slot.Frame.PTS > slot.Local {
				t.Fatalf("clock %v slot %d shows frame at %v, after local time %v", clock, i, slot.Frame.PTS, slot.Local)
			}
			prev[i] = slot.Frame.Seq
		}
	}
}

func TestResolveOffsets(t *testing.T) {
	s := newSync(t, "synthetic:?dur=5s", "synthetic:?dur=5s", DefaultConfig())

	tests := []struct {
		name       string
		clock      time.Duration
		offsets    [2]time.Duration
		wantStatus [2]Status
		wantLocal  [2]time.Duration
	}{
		{"no offset", time.Second, [2]time.Duration{}, [2]Status{Available, Available}, [2]time.Duration{time.Second, time.Second}},
		{"b delayed", 500 * time.Millisecond, [2]time.Duration{0, -time.Second}, [2]Status{Available, BeforeStart}, [2]time.Duration{500 * time.Millisecond, -500 * time.Millisecond}},
		{"b ahead", time.Second, [2]time.Duration{0, 2 * time.Second}, [2]Status{Available, Available}, [2]time.Duration{time.Second, 3 * time.Second}},
		{"b past end", 4 * time.Second, [2]time.Duration{0, 2 * time.Second}, [2]Status{Available, Ended}, [2]time.Duration{4 * time.Second, 6 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair := s.Resolve(context.Background(), tt.clock, tt.offsets)
			for i, slot := range pair.Slots {
				if slot.Status != tt.wantStatus[i] {
					t.Errorf("slot %d status = %v, want %v", i, slot.Status, tt.wantStatus[i])
				}
				if slot.Local != tt.wantLocal[i] {
					t.Errorf("slot %d local = %v, want %v", i, slot.Local, tt.wantLocal[i])
				}
			}
			if tt.wantStatus[1] == BeforeStart && pair.B().Frame != nil {
				t.Error("before-start slot carries a frame")
			}
		})
	}
}

func TestResolveEndedHoldsLastFrame(t *testing.T) {
	s := newSync(t, "synthetic:?dur=10s", "synthetic:?dur=2s", DefaultConfig())

	pair := s.Resolve(context.Background(), 3*time.Second, [2]time.Duration{})
	b := pair.B()
	if b.Status != Ended {
		t.Fatalf("B status = %v, want ended", b.Status)
	}
	if !b.HasFrame() || b.Frame.Seq != 59 {
		t.Errorf("B frame = %+v, want last frame 59", b.Frame)
	}
	if pair.AllEnded() || !pair.AnyEnded() {
		t.Error("AllEnded/AnyEnded wrong for one ended source")
	}

	pair = s.Resolve(context.Background(), 11*time.Second, [2]time.Duration{})
	if !pair.AllEnded() {
		t.Error("AllEnded() = false past both ends")
	}
}

// truncatedSource reports ErrEndOfStream from end onward although its
// metadata promises more frames.
type truncatedSource struct {
	*decoder.Adapter
	end     int64
	final   *media.Frame
	decodes atomic.Int64
}

func (s *truncatedSource) DecodeAt(ctx context.Context, ts time.Duration) (*media.Frame, error) {
	s.decodes.Add(1)
	if s.Info().FrameIndex(ts) >= s.end {
		return nil, decoder.ErrEndOfStream
	}
	return s.Adapter.DecodeAt(ctx, ts)
}

func (s *truncatedSource) FrameAtOrBefore(ts time.Duration) *media.Frame {
	return s.Adapter.FrameAtOrBefore(min(ts, s.Info().FramePTS(s.end-1)))
}

func (s *truncatedSource) Prefetch(time.Duration) {}

func (s *truncatedSource) FinalFrame() *media.Frame { return s.final }

func TestResolveEarlyEndRemembersFinalFrame(t *testing.T) {
	short := &truncatedSource{Adapter: openSource(t, "b", "synthetic:?dur=2s"), end: 50}
	final, err := short.Adapter.DecodeAt(context.Background(), short.Info().FramePTS(49))
	if err != nil {
		t.Fatal(err)
	}
	short.final = final
	s := New([2]Source{openSource(t, "a", "synthetic:?dur=10s"), short}, DefaultConfig())
	local := short.Info().FramePTS(55)

	for i := 0; i < 4; i++ {
		b := s.Resolve(context.Background(), local, [2]time.Duration{}).B()
		if b.Status != Ended {
			t.Fatalf("resolve %d: B status = %v, want ended", i, b.Status)
		}
		if b.Frame != final {
			t.Errorf("resolve %d: B frame = %+v, want final frame 49", i, b.Frame)
		}
	}
	// one decode per resolve plus a single lookup of the end frame
	if n := short.decodes.Load(); n != 5 {
		t.Errorf("DecodeAt called %d times over 4 resolves, want 5", n)
	}
}

func TestResolveTimeoutIsStale(t *testing.T) {
	cfg := Config{Timeout: 50 * time.Millisecond}
	s := newSync(t, "synthetic:?dur=10s&delay=150ms", "synthetic:?dur=10s", cfg)
	ctx := context.Background()

	start := time.Now()
	pair := s.Resolve(ctx, 0, [2]time.Duration{})
	if elapsed := time.Since(start); elapsed > cfg.Timeout+100*time.Millisecond {
		t.Errorf("Resolve took %v, want about %v", elapsed, cfg.Timeout)
	}
	a := pair.A()
	if a.Status != Unavailable || !errors.Is(a.Err, ErrSyncTimeout) {
		t.Errorf("first A slot = %v/%v, want unavailable with sync timeout", a.Status, a.Err)
	}
	if pair.B().Status != Available {
		t.Errorf("B status = %v, want available", pair.B().Status)
	}

	// let the slow decode land in the cache
	time.Sleep(200 * time.Millisecond)
	pair = s.Resolve(ctx, 0, [2]time.Duration{})
	if pair.A().Status != Available {
		t.Fatalf("A status after decode = %v, want available", pair.A().Status)
	}

	start = time.Now()
	pair = s.Resolve(ctx, 5*time.Second, [2]time.Duration{})
	if elapsed := time.Since(start); elapsed > cfg.Timeout+100*time.Millisecond {
		t.Errorf("Resolve took %v, want about %v", elapsed, cfg.Timeout)
	}
	a = pair.A()
	if a.Status != Stale || !a.HasFrame() || !a.Degraded() {
		t.Errorf("A slot = %v frame=%v, want stale with previous frame", a.Status, a.HasFrame())
	}
	if a.Frame != nil && a.Frame.PTS >= 5*time.Second {
		t.Errorf("stale frame at %v is not an older frame", a.Frame.PTS)
	}
}

func TestResolveFatalSourceIsUnavailable(t *testing.T) {
	s := newSync(t, "synthetic:?dur=2s&corrupt=0", "synthetic:?dur=2s", DefaultConfig())

	pair := s.Resolve(context.Background(), 0, [2]time.Duration{})
	if pair.A().Status != Unavailable || !decoder.IsFatal(pair.A().Err) {
		t.Errorf("A slot = %v/%v, want unavailable with fatal error", pair.A().Status, pair.A().Err)
	}
	if pair.B().Status != Available {
		t.Errorf("B status = %v, want available", pair.B().Status)
	}
}

func TestResolveSubstituteIsDegraded(t *testing.T) {
	s := newSync(t, "synthetic:?dur=2s&fps=10&corrupt=4", "synthetic:?dur=2s&fps=10", DefaultConfig())
	ctx := context.Background()

	var slot Slot
	for clock := time.Duration(0); clock <= 400*time.Millisecond; clock += 100 * time.Millisecond {
		slot = s.Resolve(ctx, clock, [2]time.Duration{}).A()
	}
	if slot.Status != Available || !slot.Degraded() || slot.Frame.Seq != 4 {
		t.Errorf("slot = %v seq=%d degraded=%v, want available substitute 4", slot.Status, slot.Frame.Seq, slot.Degraded())
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		Available:   "available",
		Stale:       "stale",
		BeforeStart: "before-start",
		Ended:       "ended",
		Unavailable: "unavailable",
		Status(42):  "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
