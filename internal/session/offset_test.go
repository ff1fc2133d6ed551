package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseOffsetMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    OffsetMethod
		wantErr bool
	}{
		{"duration", OffsetByDuration, false},
		{" Content ", OffsetByContent, false},
		{"audio", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOffsetMethod(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOffsetMethod(%q) = %q, %v", tt.in, got, err)
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ParseOffsetMethod(%q) error = %v, want ErrInvalidArgument", tt.in, err)
		}
	}
}

func TestAutoOffset(t *testing.T) {
	tests := []struct {
		name   string
		refB   string
		method OffsetMethod
		want   time.Duration
	}{
		{"end aligned", "synthetic:?dur=8s", OffsetByDuration, -2 * time.Second},
		{"identical content", "synthetic:?dur=10s", OffsetByContent, 0},
		{"B runs ahead", "synthetic:?dur=10s&shift=600ms", OffsetByContent, -600 * time.Millisecond},
		{"B runs behind", "synthetic:?dur=10s&shift=-400ms", OffsetByContent, 400 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openSession(t, "synthetic:?dur=10s", tt.refB)

			got, err := s.AutoOffset(context.Background(), tt.method)
			if err != nil {
				t.Fatalf("AutoOffset() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("AutoOffset() = %v, want %v", got, tt.want)
			}
			if off := s.State().Offsets[1]; off != tt.want {
				t.Errorf("applied offset = %v, want %v", off, tt.want)
			}
		})
	}
}

func TestAutoOffsetUnknownMethod(t *testing.T) {
	s := openSession(t, "synthetic:", "synthetic:")
	if _, err := s.AutoOffset(context.Background(), "audio"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("AutoOffset() error = %v, want ErrInvalidArgument", err)
	}
}
