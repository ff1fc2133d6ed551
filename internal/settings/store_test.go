package settings

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"video-compare/internal/compositor"
	"video-compare/internal/metrics"
	"video-compare/internal/playback"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(refA, refB string) Settings {
	return Settings{
		RefA:      refA,
		RefB:      refB,
		Offset:    -1250 * time.Millisecond,
		Mode:      compositor.Overlay,
		Threshold: 32,
		ColorMap:  compositor.ColorMapHeat,
		Division:  0.25,
		Speed:     0.5,
		EndPolicy: playback.EndPauseAtShorter,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	want := sample("/videos/a.mp4", "/videos/b.mp4")
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Get(ctx, want.RefA, want.RefB)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
	got.UpdatedAt = time.Time{}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	// the pair is ordered
	if _, err := s.Get(ctx, want.RefB, want.RefA); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() of swapped pair error = %v, want ErrNotFound", err)
	}
}

func TestSaveReplaces(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	st := sample("a", "b")
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	st.Mode = compositor.Wipe
	st.Offset = 40 * time.Millisecond
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := s.Get(ctx, "a", "b")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Mode != compositor.Wipe || got.Offset != 40*time.Millisecond {
		t.Errorf("Get() = %+v", got)
	}

	list, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Recent() returned %d pairs, want 1", len(list))
	}
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, sample("a", "b")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Delete(ctx, "a", "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "a", "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, "a", "b"); err != nil {
		t.Errorf("Delete() of missing pair error = %v", err)
	}
}

func TestRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, ref := range []string{"one", "two", "three"} {
		if err := s.Save(ctx, sample(ref, "ref")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	tests := []struct {
		limit int
		want  []string
	}{
		{2, []string{"three", "two"}},
		{10, []string{"three", "two", "one"}},
		{0, []string{"three", "two", "one"}},
	}
	for _, tt := range tests {
		list, err := s.Recent(ctx, tt.limit)
		if err != nil {
			t.Fatalf("Recent(%d) error = %v", tt.limit, err)
		}
		var got []string
		for _, st := range list {
			got = append(got, st.RefA)
		}
		if len(got) != len(tt.want) {
			t.Errorf("Recent(%d) = %v, want %v", tt.limit, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Recent(%d) = %v, want %v", tt.limit, got, tt.want)
				break
			}
		}
	}
}

func TestReopenKeepsSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Save(ctx, sample("a", "b")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	if _, err := s.Get(ctx, "a", "b"); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
	if v, err := s.Metadata(ctx, "schema_version"); err != nil || v != schemaVersion {
		t.Errorf("schema_version = %q, %v", v, err)
	}
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "missing", "settings.db"))
	if err == nil {
		t.Error("Open() in a missing directory succeeded")
	}
}

func TestQueriesAreCounted(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.DBQueryTotal.WithLabelValues("get_settings", "success"))
	if _, err := s.Get(ctx, "x", "y"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
	after := testutil.ToFloat64(metrics.DBQueryTotal.WithLabelValues("get_settings", "success"))
	if after-before != 1 {
		t.Errorf("get_settings success count grew by %v, want 1", after-before)
	}
}

func TestFromState(t *testing.T) {
	st := playback.SyncState{
		Offsets:   [2]time.Duration{0, 300 * time.Millisecond},
		Mode:      compositor.Wipe,
		Threshold: 5,
		ColorMap:  compositor.ColorMapGray,
		Division:  0.7,
		Speed:     2,
		EndPolicy: playback.EndHoldLast,
	}
	got := FromState("a", "b", st)
	want := Settings{RefA: "a", RefB: "b", Offset: 300 * time.Millisecond, Mode: compositor.Wipe,
		Threshold: 5, Division: 0.7, Speed: 2}
	if got != want {
		t.Errorf("FromState() = %+v, want %+v", got, want)
	}
}
