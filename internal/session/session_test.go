package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"video-compare/internal/compositor"
	"video-compare/internal/decoder"
	"video-compare/internal/media"
	"video-compare/internal/playback"
)

// countingBackend records how many streams were opened.
type countingBackend struct {
	decoder.Synthetic
	opens atomic.Int32
}

func (b *countingBackend) OpenStream(info media.Info, start time.Duration, opts decoder.StreamOptions) (decoder.Stream, error) {
	b.opens.Add(1)
	return b.Synthetic.OpenStream(info, start, opts)
}

func openSession(t *testing.T, refA, refB string) *Session {
	t.Helper()
	s, err := OpenSources(context.Background(), refA, refB, DefaultConfig())
	if err != nil {
		t.Fatalf("OpenSources() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func nextOutput(t *testing.T, ch <-chan playback.Output, cond func(playback.Output) bool) playback.Output {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case out, ok := <-ch:
			if !ok {
				t.Fatal("output channel closed")
			}
			if cond(out) {
				return out
			}
		case <-deadline:
			t.Fatal("timed out waiting for output")
		}
	}
}

func TestOpenSources(t *testing.T) {
	s := openSession(t, "synthetic:?fps=30&dur=10s", "synthetic:?fps=25&dur=8s&w=128&h=72")

	infos := s.Sources()
	if infos[0].FrameRate != 30 || infos[1].FrameRate != 25 || infos[1].Width != 128 {
		t.Errorf("Sources() = %+v", infos)
	}
	if len(s.ID()) != 36 {
		t.Errorf("ID() = %q, want a uuid", s.ID())
	}

	frames, cancel := s.Subscribe()
	defer cancel()
	out := nextOutput(t, frames, func(playback.Output) bool { return true })
	if out.Image == nil || out.State != playback.Stopped {
		t.Errorf("first output = %+v", out)
	}
	if st := s.State(); st.Duration != 10*time.Second {
		t.Errorf("duration = %v, want 10s", st.Duration)
	}
}

func TestOpenSourcesIsAtomic(t *testing.T) {
	backend := &countingBackend{}
	refs := [2]string{"synthetic:?dur=10s", "synthetic:?fail=probe"}

	_, err := open(context.Background(), refs, [2]decoder.Backend{backend, backend}, DefaultConfig())
	if !errors.Is(err, decoder.ErrUnreadableSource) {
		t.Fatalf("open() error = %v, want ErrUnreadableSource", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := backend.opens.Load(); n != 0 {
		t.Errorf("%d streams opened after a failed open", n)
	}

	// the same backend decodes once both sources are readable
	refs[1] = "synthetic:?dur=5s"
	s, err := open(context.Background(), refs, [2]decoder.Backend{backend, backend}, DefaultConfig())
	if err != nil {
		t.Fatalf("open() error = %v", err)
	}
	defer s.Close()
	frames, cancel := s.Subscribe()
	defer cancel()
	nextOutput(t, frames, func(playback.Output) bool { return true })
	if backend.opens.Load() == 0 {
		t.Error("no stream opened for a started session")
	}
}

func TestOpenSourcesMissingFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = decoder.NewFFmpeg("", "")

	missing := filepath.Join(t.TempDir(), "missing.mp4")
	_, err := OpenSources(context.Background(), "synthetic:", missing, cfg)
	if !errors.Is(err, decoder.ErrUnreadableSource) {
		t.Errorf("OpenSources() error = %v, want ErrUnreadableSource", err)
	}
}

func TestOpenSplit(t *testing.T) {
	s, err := OpenSplit(context.Background(), "synthetic:?w=128&h=36", DefaultConfig())
	if err != nil {
		t.Fatalf("OpenSplit() error = %v", err)
	}
	defer s.Close()

	for i, info := range s.Sources() {
		if info.Width != 64 || info.Height != 36 {
			t.Errorf("source %d size = %dx%d, want 64x36", i, info.Width, info.Height)
		}
	}
}

func TestSubscribersShareOutputs(t *testing.T) {
	s := openSession(t, "synthetic:", "synthetic:?seed=2")

	first, cancelFirst := s.Subscribe()
	defer cancelFirst()
	second, cancelSecond := s.Subscribe()
	defer cancelSecond()

	if err := s.Seek(2 * time.Second); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	at2s := func(o playback.Output) bool { return o.Clock == 2*time.Second }
	nextOutput(t, first, at2s)
	nextOutput(t, second, at2s)

	if out, ok := s.Latest(); !ok || out.Clock != 2*time.Second {
		t.Errorf("Latest() = %v, %v", out.Clock, ok)
	}

	cancelSecond()
	if _, ok := <-second; ok {
		// a buffered output may still be pending
		if _, ok := <-second; ok {
			t.Error("cancelled subscription still open")
		}
	}
}

func TestCommands(t *testing.T) {
	s := openSession(t, "synthetic:?dur=10s", "synthetic:?dur=10s")

	steps := []struct {
		name string
		run  func() error
	}{
		{"seek", func() error { return s.Seek(time.Second) }},
		{"step", func() error { return s.Step(3) }},
		{"mode", func() error { return s.SetMode(compositor.Wipe) }},
		{"overlay", func() error { return s.SetOverlayParams(25, compositor.ColorMapHeat) }},
		{"offset", func() error { return s.SetOffset(500 * time.Millisecond) }},
		{"division", func() error { return s.SetDivision(0.3) }},
		{"speed", func() error { return s.SetSpeed(0.5) }},
		{"end policy", func() error { return s.SetEndPolicy(playback.EndPauseAtShorter) }},
	}
	for _, st := range steps {
		if err := st.run(); err != nil {
			t.Fatalf("%s error = %v", st.name, err)
		}
	}

	got := s.State()
	want := playback.SyncState{
		State:     playback.Paused,
		Clock:     1100 * time.Millisecond,
		Offsets:   [2]time.Duration{0, 500 * time.Millisecond},
		Speed:     0.5,
		Mode:      compositor.Wipe,
		Threshold: 25,
		ColorMap:  compositor.ColorMapHeat,
		Division:  0.3,
		EndPolicy: playback.EndPauseAtShorter,
		Duration:  10 * time.Second,
	}
	if got != want {
		t.Errorf("State() =\n%+v\nwant\n%+v", got, want)
	}

	if err := s.SetSpeed(-1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetSpeed(-1) error = %v, want ErrInvalidArgument", err)
	}
	if err := s.Play(); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if st := s.State(); st.State != playback.Stopped || st.Clock != 0 {
		t.Errorf("after Stop state = %v clock = %v", st.State, st.Clock)
	}
}

func TestDecodeErrorsBecomeEvents(t *testing.T) {
	s := openSession(t, "synthetic:?corrupt=20", "synthetic:")

	events, cancel := s.Events()
	defer cancel()

	if err := s.Seek(700 * time.Millisecond); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != playback.EventDecode {
				continue
			}
			if ev.Source != "a" || !errors.Is(ev.Err, decoder.ErrDecode) {
				t.Errorf("event = %+v", ev)
			}
			return
		case <-deadline:
			t.Fatal("no decode event")
		}
	}
}

func TestClose(t *testing.T) {
	s := openSession(t, "synthetic:", "synthetic:")
	frames, _ := s.Subscribe()
	events, _ := s.Events()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	for range frames {
	}
	for range events {
	}
	if err := s.Play(); !errors.Is(err, ErrClosed) {
		t.Errorf("Play() after Close error = %v, want ErrClosed", err)
	}
	if _, err := s.AutoOffset(context.Background(), OffsetByDuration); !errors.Is(err, ErrClosed) {
		t.Errorf("AutoOffset() after Close error = %v, want ErrClosed", err)
	}

	late, _ := s.Subscribe()
	if _, ok := <-late; ok {
		t.Error("Subscribe() after Close returned an open channel")
	}
	for _, a := range s.adapters {
		if _, err := a.DecodeAt(context.Background(), 0); !errors.Is(err, decoder.ErrClosed) {
			t.Errorf("adapter %s still open: %v", a.Label(), err)
		}
	}
}
