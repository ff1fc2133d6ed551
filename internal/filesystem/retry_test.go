package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"
)

type countingObserver struct {
	mu       sync.Mutex
	attempts int
	stale    int
	success  int
	failures int
}

func (o *countingObserver) ObserveRetryAttempt(string, string) {
	o.mu.Lock()
	o.attempts++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveRetrySuccess(string, string) {
	o.mu.Lock()
	o.success++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveRetryFailure(string, string) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveRetryDuration(string, string, float64) {}

func (o *countingObserver) ObserveStaleError(string, string) {
	o.mu.Lock()
	o.stale++
	o.mu.Unlock()
}

func fastConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestIsStale(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"ESTALE", syscall.ESTALE, true},
		{"wrapped ESTALE", &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}, true},
		{"ENOENT", syscall.ENOENT, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStale(tt.err); got != tt.want {
				t.Errorf("IsStale(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatWithRetryExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mp4")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := StatWithRetry(path, fastConfig())
	if err != nil {
		t.Fatalf("StatWithRetry() error = %v", err)
	}
	if info.Size() != 4 {
		t.Errorf("Size() = %d, want 4", info.Size())
	}
}

func TestStatWithRetryMissingFileDoesNotRetry(t *testing.T) {
	obs := &countingObserver{}
	SetObserver(obs)
	defer SetObserver(nil)

	_, err := StatWithRetry(filepath.Join(t.TempDir(), "missing.mp4"), fastConfig())
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	if obs.attempts != 0 || obs.stale != 0 {
		t.Errorf("missing file should not be retried: attempts=%d stale=%d", obs.attempts, obs.stale)
	}
}

func TestRetryStaleThenSuccess(t *testing.T) {
	obs := &countingObserver{}
	SetObserver(obs)
	defer SetObserver(nil)

	calls := 0
	got, err := retry("stat", "/videos/a.mp4", fastConfig(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, &os.PathError{Op: "stat", Path: "/videos/a.mp4", Err: syscall.ESTALE}
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("retry() error = %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls, want 42 after 3", got, calls)
	}
	if obs.stale != 2 || obs.attempts != 2 || obs.success != 1 {
		t.Errorf("observer counts stale=%d attempts=%d success=%d", obs.stale, obs.attempts, obs.success)
	}
}

func TestRetryExhausted(t *testing.T) {
	obs := &countingObserver{}
	SetObserver(obs)
	defer SetObserver(nil)

	calls := 0
	_, err := retry("open", "/videos/a.mp4", fastConfig(), func() (struct{}, error) {
		calls++
		return struct{}{}, fmt.Errorf("open: %w", syscall.ESTALE)
	})
	if !IsStale(err) {
		t.Fatalf("expected stale error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if obs.failures != 1 {
		t.Errorf("failures = %d, want 1", obs.failures)
	}
}

func TestCheckReadable(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "b.mkv")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CheckReadable(file, fastConfig()); err != nil {
		t.Errorf("CheckReadable(file) error = %v", err)
	}
	if err := CheckReadable(dir, fastConfig()); err == nil {
		t.Error("CheckReadable(dir) should fail")
	}
	if err := CheckReadable(filepath.Join(dir, "nope"), fastConfig()); err == nil {
		t.Error("CheckReadable(missing) should fail")
	}
}

func TestVolumeResolver(t *testing.T) {
	vr := NewVolumeResolver(map[string]string{
		"source":   "/videos",
		"nested":   "/videos/archive",
		"database": "/data",
	})

	tests := []struct {
		path string
		want string
	}{
		{"/videos/a.mp4", "source"},
		{"/videos/archive/b.mp4", "nested"},
		{"/data/settings.db", "database"},
		{"/videos", "source"},
		{"/videosx/a.mp4", "unknown"},
		{"/tmp/c.mp4", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := vr.Resolve(tt.path); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}

	var nilResolver *VolumeResolver
	if got := nilResolver.Resolve("/videos/a.mp4"); got != "unknown" {
		t.Errorf("nil resolver = %q, want unknown", got)
	}
}
