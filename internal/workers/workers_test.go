package workers

import (
	"runtime"
	"testing"
)

func TestCount(t *testing.T) {
	t.Setenv(OverrideEnv, "")

	availableCPU := runtime.GOMAXPROCS(0)

	tests := []struct {
		name       string
		multiplier float64
		limit      int
		minExpect  int
		maxExpect  int
	}{
		{"CPU-bound", 1.0, 0, 1, availableCPU},
		{"I/O-bound", 2.0, 0, 1, availableCPU * 2},
		{"limit lower than calculated", 2.0, 2, 1, 2},
		{"tiny multiplier floors at one", 0.0001, 0, 1, 1},
		{"zero multiplier floors at one", 0, 0, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Count(tt.multiplier, tt.limit)
			if got < tt.minExpect || got > tt.maxExpect {
				t.Errorf("Count(%v, %d) = %d, want in [%d, %d]",
					tt.multiplier, tt.limit, got, tt.minExpect, tt.maxExpect)
			}
		})
	}
}

func TestCountOverride(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		limit int
		want  int
	}{
		{"fixed value", "3", 0, 3},
		{"capped by limit", "16", 4, 4},
		{"invalid ignored", "lots", 1, 1},
		{"negative ignored", "-2", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(OverrideEnv, tt.env)
			if got := Count(1.0, tt.limit); got != tt.want {
				t.Errorf("Count() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestForHelpers(t *testing.T) {
	t.Setenv(OverrideEnv, "")

	if got := ForCPU(1); got != 1 {
		t.Errorf("ForCPU(1) = %d, want 1", got)
	}
	if ForIO(0) < ForCPU(0) {
		t.Errorf("ForIO(0) = %d should not be below ForCPU(0) = %d", ForIO(0), ForCPU(0))
	}
}

func TestDecoderThreads(t *testing.T) {
	t.Setenv(OverrideEnv, "")

	one := DecoderThreads(1)
	many := DecoderThreads(64)

	if one < 1 || one > 8 {
		t.Errorf("DecoderThreads(1) = %d, want in [1, 8]", one)
	}
	if many != 1 {
		t.Errorf("DecoderThreads(64) = %d, want 1", many)
	}
	if DecoderThreads(0) != one {
		t.Errorf("DecoderThreads(0) should behave like a single session")
	}

	t.Setenv(OverrideEnv, "2")
	if got := DecoderThreads(64); got != 2 {
		t.Errorf("override: DecoderThreads(64) = %d, want 2", got)
	}
}
