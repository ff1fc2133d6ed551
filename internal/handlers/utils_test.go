package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"video-compare/internal/decoder"
	"video-compare/internal/playback"
	"video-compare/internal/session"
	"video-compare/internal/timeline"
)

// =============================================================================
// writeJSON Tests
// =============================================================================

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    interface{}
		expected string
	}{
		{name: "Simple map", input: map[string]string{"status": "ok"}, expected: `{"status":"ok"}`},
		{name: "String slice", input: []string{"a", "b", "c"}, expected: `["a","b","c"]`},
		{name: "Number", input: 42, expected: `42`},
		{name: "Null", input: nil, expected: `null`},
		{name: "Empty slice", input: []string{}, expected: `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeJSON(w, tt.input)

			body := strings.TrimSuffix(w.Body.String(), "\n")
			if body != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, body)
			}
		})
	}
}

func TestWriteJSONHandlesInvalidTypes(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSON(w, make(chan int))

	if w.Body.Len() != 0 {
		t.Errorf("Expected empty body for unencodable value, got %q", w.Body.String())
	}
}

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSONError(w, "session not found", http.StatusNotFound)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %q", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["error"] != "session not found" {
		t.Errorf("Expected error message, got %q", body["error"])
	}
}

func TestWriteJSONStatus(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSONStatus(w, "ok")

	if got := strings.TrimSpace(w.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("Unexpected body %q", got)
	}
}

// =============================================================================
// decodeJSON Tests
// =============================================================================

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "Valid", body: `{"ms": 1500}`},
		{name: "Unknown field", body: `{"ms": 1, "extra": true}`, wantErr: true},
		{name: "Malformed", body: `{"ms":`, wantErr: true},
		{name: "Wrong type", body: `{"ms": "soon"}`, wantErr: true},
		{name: "Empty", body: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			var v struct {
				Ms int64 `json:"ms"`
			}
			err := decodeJSON(req, &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, playback.ErrInvalidArgument) {
				t.Errorf("Expected ErrInvalidArgument, got %v", err)
			}
			if err == nil && v.Ms != 1500 {
				t.Errorf("Expected ms=1500, got %d", v.Ms)
			}
		})
	}
}

func TestDecodeJSONContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		wantErr     bool
	}{
		{contentType: "application/json"},
		{contentType: "application/json; charset=utf-8"},
		{contentType: "", wantErr: true},
		{contentType: "text/plain", wantErr: true},
		{contentType: "application/x-www-form-urlencoded", wantErr: true},
		{contentType: "multipart/form-data; boundary=x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ms": 1}`))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			var v struct {
				Ms int64 `json:"ms"`
			}
			err := decodeJSON(req, &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && errorStatus(err) != http.StatusUnsupportedMediaType {
				t.Errorf("errorStatus = %d, want 415", errorStatus(err))
			}
		})
	}
}

// =============================================================================
// checkOrigin Tests
// =============================================================================

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{name: "No origin", host: "127.0.0.1:8080", want: true},
		{name: "Same host", host: "media.lan:8080", origin: "http://media.lan:8080", want: true},
		{name: "Same host other case", host: "media.lan:8080", origin: "http://MEDIA.lan:8080", want: true},
		{name: "Localhost page", host: "127.0.0.1:8080", origin: "http://localhost:3000", want: true},
		{name: "IPv6 loopback page", host: "127.0.0.1:8080", origin: "http://[::1]:5173", want: true},
		{name: "Foreign site", host: "127.0.0.1:8080", origin: "https://videos.example.com", want: false},
		{name: "Opaque origin", host: "127.0.0.1:8080", origin: "null", want: false},
		{name: "Other LAN host", host: "media.lan:8080", origin: "http://printer.lan", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions/x/events", http.NoBody)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(origin=%q, host=%q) = %v, want %v", tt.origin, tt.host, got, tt.want)
			}
		})
	}
}

// =============================================================================
// errorStatus Tests
// =============================================================================

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "Unknown session", err: fmt.Errorf("%w: abc", session.ErrNotFound), want: http.StatusNotFound},
		{name: "Closed session", err: session.ErrClosed, want: http.StatusNotFound},
		{name: "Bad argument", err: fmt.Errorf("%w: speed", playback.ErrInvalidArgument), want: http.StatusBadRequest},
		{name: "Not JSON", err: errUnsupportedMediaType, want: http.StatusUnsupportedMediaType},
		{name: "Bad transition", err: playback.ErrInvalidTransition, want: http.StatusConflict},
		{name: "Unreadable", err: fmt.Errorf("opening sources: %w", decoder.ErrUnreadableSource), want: http.StatusUnprocessableEntity},
		{name: "Too few frames", err: timeline.ErrNotEnoughFrames, want: http.StatusUnprocessableEntity},
		{name: "Too many sessions", err: session.ErrTooManySessions, want: http.StatusTooManyRequests},
		{name: "Other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorStatus(tt.err); got != tt.want {
				t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
