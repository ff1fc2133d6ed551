package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"video-compare/internal/compositor"
	"video-compare/internal/session"
	"video-compare/internal/settings"
	"video-compare/internal/streaming"
)

const (
	testRefA = "synthetic:?fps=30&dur=10s"
	testRefB = "synthetic:?fps=25&dur=8s&seed=2"
)

func newTestHandlers(t *testing.T, store *settings.Store) (*Handlers, *httptest.Server) {
	t.Helper()
	m := session.NewManager(session.DefaultConfig(), 2, nil)
	opts := DefaultOptions()
	opts.StateInterval = 50 * time.Millisecond
	h := New(m, store, opts)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(func() {
		m.CloseAll()
		srv.Close()
	})
	return h, srv
}

// do sends a request through the router and decodes the JSON response into
// out when it is non-nil.
func do(t *testing.T, h *Handlers, method, path, body string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)
	if out != nil && w.Code < 300 {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: failed to decode response: %v", method, path, err)
		}
	}
	return w.Code
}

func openTestSession(t *testing.T, h *Handlers) SessionView {
	t.Helper()
	var view SessionView
	body := `{"refA":"` + testRefA + `","refB":"` + testRefB + `"}`
	if code := do(t, h, http.MethodPost, "/api/sessions", body, &view); code != http.StatusCreated {
		t.Fatalf("POST /api/sessions status = %d", code)
	}
	return view
}

// =============================================================================
// Session Lifecycle Tests
// =============================================================================

func TestCreateSession(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	view := openTestSession(t, h)

	if view.ID == "" || view.RefA != testRefA || view.RefB != testRefB {
		t.Errorf("Unexpected session view %+v", view)
	}
	if view.Sources[0].FrameRate != 30 || view.Sources[1].FrameRate != 25 {
		t.Errorf("Unexpected sources %+v", view.Sources)
	}
	if view.State.State != "stopped" || view.State.DurationMs != 10000 {
		t.Errorf("Unexpected state %+v", view.State)
	}

	var got SessionView
	if code := do(t, h, http.MethodGet, "/api/sessions/"+view.ID, "", &got); code != http.StatusOK {
		t.Fatalf("GET session status = %d", code)
	}
	if got.ID != view.ID {
		t.Errorf("GET returned %q, want %q", got.ID, view.ID)
	}

	var list []SessionView
	if code := do(t, h, http.MethodGet, "/api/sessions", "", &list); code != http.StatusOK || len(list) != 1 {
		t.Errorf("List status = %d, len = %d", code, len(list))
	}
}

func TestCreateSessionErrors(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	missing := filepath.Join(t.TempDir(), "missing.mp4")

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "Missing refB", body: `{"refA":"synthetic:"}`, want: http.StatusBadRequest},
		{name: "Split and pair", body: `{"refA":"synthetic:","refB":"synthetic:","split":"synthetic:"}`, want: http.StatusBadRequest},
		{name: "Malformed", body: `{"refA":`, want: http.StatusBadRequest},
		{name: "Unreadable", body: `{"refA":"synthetic:","refB":"synthetic:?fail=probe"}`, want: http.StatusUnprocessableEntity},
		{name: "Missing file", body: `{"refA":"synthetic:","refB":"` + missing + `"}`, want: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := do(t, h, http.MethodPost, "/api/sessions", tt.body, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	if n := len(h.sessions.List()); n != 0 {
		t.Errorf("Expected no open sessions, got %d", n)
	}
}

func TestCreateSessionLimit(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	openTestSession(t, h)
	openTestSession(t, h)

	body := `{"refA":"synthetic:","refB":"synthetic:"}`
	if code := do(t, h, http.MethodPost, "/api/sessions", body, nil); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", code)
	}
}

func TestCreateSplitSession(t *testing.T) {
	h, _ := newTestHandlers(t, nil)

	var view SessionView
	code := do(t, h, http.MethodPost, "/api/sessions", `{"split":"synthetic:?w=128&h=36"}`, &view)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	for i, info := range view.Sources {
		if info.Width != 64 || info.Height != 36 {
			t.Errorf("source %d is %dx%d, want 64x36", i, info.Width, info.Height)
		}
	}
}

func TestDeleteSession(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	view := openTestSession(t, h)

	if code := do(t, h, http.MethodDelete, "/api/sessions/"+view.ID, "", nil); code != http.StatusNoContent {
		t.Errorf("DELETE status = %d", code)
	}
	if code := do(t, h, http.MethodGet, "/api/sessions/"+view.ID, "", nil); code != http.StatusNotFound {
		t.Errorf("GET after DELETE status = %d", code)
	}
	if code := do(t, h, http.MethodDelete, "/api/sessions/"+view.ID, "", nil); code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d", code)
	}
	if code := do(t, h, http.MethodPost, "/api/sessions/"+view.ID+"/play", "", nil); code != http.StatusNotFound {
		t.Errorf("play on deleted session status = %d", code)
	}
}

// =============================================================================
// Command Tests
// =============================================================================

func TestCommands(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	base := "/api/sessions/" + openTestSession(t, h).ID

	tests := []struct {
		name      string
		method    string
		path      string
		body      string
		want      int
		wantState string
		check     func(t *testing.T, st StateView)
	}{
		{name: "Step while stopped", method: http.MethodPost, path: "/step", body: `{"frames":1}`, want: http.StatusConflict},
		{name: "Pause while stopped", method: http.MethodPost, path: "/pause", want: http.StatusConflict},
		{name: "Seek", method: http.MethodPost, path: "/seek", body: `{"ms":2000}`, want: http.StatusOK, wantState: "paused",
			check: func(t *testing.T, st StateView) {
				if st.ClockMs != 2000 {
					t.Errorf("clock = %dms, want 2000", st.ClockMs)
				}
			}},
		{name: "Seek without ms", method: http.MethodPost, path: "/seek", body: `{}`, want: http.StatusBadRequest},
		{name: "Step", method: http.MethodPost, path: "/step", body: `{"frames":3}`, want: http.StatusOK, wantState: "paused",
			check: func(t *testing.T, st StateView) {
				if st.ClockMs != 2100 {
					t.Errorf("clock = %dms, want 2100", st.ClockMs)
				}
			}},
		{name: "Play", method: http.MethodPost, path: "/play", want: http.StatusOK, wantState: "playing"},
		{name: "Pause", method: http.MethodPost, path: "/pause", want: http.StatusOK, wantState: "paused"},
		{name: "Pause again", method: http.MethodPost, path: "/pause", want: http.StatusOK, wantState: "paused"},
		{name: "Mode", method: http.MethodPut, path: "/mode", body: `{"mode":"diff"}`, want: http.StatusOK,
			check: func(t *testing.T, st StateView) {
				if st.Mode != "overlay" {
					t.Errorf("mode = %q", st.Mode)
				}
			}},
		{name: "Unknown mode", method: http.MethodPut, path: "/mode", body: `{"mode":"mosaic"}`, want: http.StatusBadRequest},
		{name: "Overlay", method: http.MethodPut, path: "/overlay", body: `{"threshold":40,"colorMap":"heat"}`, want: http.StatusOK,
			check: func(t *testing.T, st StateView) {
				if st.Threshold != 40 || st.ColorMap != "heat" {
					t.Errorf("overlay = %d/%q", st.Threshold, st.ColorMap)
				}
			}},
		{name: "Overlay threshold out of range", method: http.MethodPut, path: "/overlay", body: `{"threshold":300}`, want: http.StatusBadRequest},
		{name: "Offset", method: http.MethodPut, path: "/offset", body: `{"ms":-1500}`, want: http.StatusOK,
			check: func(t *testing.T, st StateView) {
				if st.OffsetMs != -1500 {
					t.Errorf("offset = %dms", st.OffsetMs)
				}
			}},
		{name: "Division", method: http.MethodPut, path: "/division", body: `{"division":0.25}`, want: http.StatusOK,
			check: func(t *testing.T, st StateView) {
				if st.Division != 0.25 {
					t.Errorf("division = %v", st.Division)
				}
			}},
		{name: "Speed", method: http.MethodPut, path: "/speed", body: `{"speed":2}`, want: http.StatusOK,
			check: func(t *testing.T, st StateView) {
				if st.Speed != 2 {
					t.Errorf("speed = %v", st.Speed)
				}
			}},
		{name: "Speed out of range", method: http.MethodPut, path: "/speed", body: `{"speed":0}`, want: http.StatusBadRequest},
		{name: "End policy", method: http.MethodPut, path: "/end-policy", body: `{"policy":"pause-at-shorter"}`, want: http.StatusOK,
			check: func(t *testing.T, st StateView) {
				if st.EndPolicy != "pause-at-shorter" {
					t.Errorf("end policy = %q", st.EndPolicy)
				}
			}},
		{name: "Stop", method: http.MethodPost, path: "/stop", want: http.StatusOK, wantState: "stopped",
			check: func(t *testing.T, st StateView) {
				if st.ClockMs != 0 {
					t.Errorf("clock = %dms after stop", st.ClockMs)
				}
			}},
		{name: "Wrong method", method: http.MethodGet, path: "/play", want: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var st StateView
			code := do(t, h, tt.method, base+tt.path, tt.body, &st)
			if code != tt.want {
				t.Fatalf("status = %d, want %d", code, tt.want)
			}
			if tt.wantState != "" && st.State != tt.wantState {
				t.Errorf("state = %q, want %q", st.State, tt.wantState)
			}
			if tt.check != nil {
				tt.check(t, st)
			}
		})
	}
}

func TestAutoOffset(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	base := "/api/sessions/" + openTestSession(t, h).ID

	var st StateView
	if code := do(t, h, http.MethodPost, base+"/offset/auto", `{"method":"duration"}`, &st); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if st.OffsetMs != -2000 {
		t.Errorf("offset = %dms, want -2000", st.OffsetMs)
	}

	if code := do(t, h, http.MethodPost, base+"/offset/auto", `{"method":"guess"}`, nil); code != http.StatusBadRequest {
		t.Errorf("unknown method status = %d", code)
	}
}

// =============================================================================
// Settings Persistence Tests
// =============================================================================

func TestSettingsArePersisted(t *testing.T) {
	ctx := context.Background()
	store, err := settings.Open(ctx, filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("settings.Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h, _ := newTestHandlers(t, store)
	view := openTestSession(t, h)
	base := "/api/sessions/" + view.ID

	do(t, h, http.MethodPut, base+"/offset", `{"ms":1500}`, nil)
	do(t, h, http.MethodPut, base+"/mode", `{"mode":"wipe"}`, nil)

	saved, err := store.Get(ctx, testRefA, testRefB)
	if err != nil {
		t.Fatalf("store.Get() error = %v", err)
	}
	if saved.Offset != 1500*time.Millisecond || saved.Mode != compositor.Wipe {
		t.Errorf("saved settings = %+v", saved)
	}

	// Transport commands do not touch the store.
	do(t, h, http.MethodPost, base+"/play", "", nil)
	if recent, _ := store.Recent(ctx, 0); len(recent) != 1 {
		t.Errorf("Recent() returned %d entries", len(recent))
	}

	do(t, h, http.MethodDelete, base, "", nil)
	reopened := openTestSession(t, h)
	if reopened.State.OffsetMs != 1500 || reopened.State.Mode != "wipe" {
		t.Errorf("restored state = %+v", reopened.State)
	}

	var recent []settings.Settings
	if code := do(t, h, http.MethodGet, "/api/settings/recent?limit=5", "", &recent); code != http.StatusOK || len(recent) != 1 {
		t.Errorf("GET recent status = %d, len = %d", code, len(recent))
	}
	if code := do(t, h, http.MethodGet, "/api/settings/recent?limit=x", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", code)
	}
}

func TestRecentSettingsWithoutStore(t *testing.T) {
	h, _ := newTestHandlers(t, nil)

	var recent []settings.Settings
	if code := do(t, h, http.MethodGet, "/api/settings/recent", "", &recent); code != http.StatusOK || len(recent) != 0 {
		t.Errorf("status = %d, len = %d", code, len(recent))
	}
}

// =============================================================================
// Output Tests
// =============================================================================

func waitForFrame(t *testing.T, h *Handlers, path string) *httptest.ResponseRecorder {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		w := httptest.NewRecorder()
		h.Router().ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable {
			return w
		}
		if time.Now().After(deadline) {
			t.Fatal("no frame rendered")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestFrame(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	id := openTestSession(t, h).ID

	w := waitForFrame(t, h, "/api/sessions/"+id+"/frame.jpg")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, err := jpeg.Decode(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("jpeg.Decode() error = %v", err)
	}
	if img.Bounds().Dx() == 0 {
		t.Error("empty image")
	}
	if w.Header().Get("X-Clock-Ms") != "0" {
		t.Errorf("X-Clock-Ms = %q", w.Header().Get("X-Clock-Ms"))
	}
}

func TestStream(t *testing.T) {
	h, srv := newTestHandlers(t, nil)
	id := openTestSession(t, h).ID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sessions/"+id+"/stream.mjpeg", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream error = %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] != streaming.Boundary {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	part, err := multipart.NewReader(resp.Body, params["boundary"]).NextPart()
	if err != nil {
		t.Fatalf("NextPart() error = %v", err)
	}
	if _, err := jpeg.Decode(part); err != nil {
		t.Errorf("first part is not a JPEG: %v", err)
	}
}

func TestEventsWebSocket(t *testing.T) {
	h, srv := newTestHandlers(t, nil)
	id := openTestSession(t, h).ID

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg EventMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != "state" || msg.State == nil || msg.State.State != "stopped" {
		t.Fatalf("first message = %+v", msg)
	}

	if err := conn.WriteJSON(map[string]interface{}{"type": "ping", "data": 7}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	for {
		var m EventMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for pong: %v", err)
		}
		if m.Type == "pong" {
			if string(m.Data) != "7" {
				t.Errorf("pong data = %s", m.Data)
			}
			break
		}
	}

	// State updates follow commands.
	do(t, h, http.MethodPost, "/api/sessions/"+id+"/seek", `{"ms":1000}`, nil)
	for {
		var m EventMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for state: %v", err)
		}
		if m.Type == "state" && m.State.State == "paused" && m.State.ClockMs == 1000 {
			break
		}
	}

	// Closing the session closes the socket.
	do(t, h, http.MethodDelete, "/api/sessions/"+id, "", nil)
	for {
		var m EventMessage
		err := conn.ReadJSON(&m)
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseNormalClosure {
			t.Errorf("read error = %v, want normal closure", err)
		}
		break
	}
}

func TestEventsUnknownSession(t *testing.T) {
	_, srv := newTestHandlers(t, nil)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/nope/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() succeeded for unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("response = %v", resp)
	}
}

func TestEventsRejectsForeignOrigin(t *testing.T) {
	h, srv := newTestHandlers(t, nil)
	id := openTestSession(t, h).ID

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/events"
	header := http.Header{"Origin": []string{"https://videos.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Dial() succeeded from a foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
}

func TestCreateSessionRequiresJSON(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	body := `{"refA":"` + testRefA + `","refB":"` + testRefB + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.Router().ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", w.Code)
	}
	if n := len(h.sessions.List()); n != 0 {
		t.Errorf("%d sessions opened by a text/plain request", n)
	}
}

func TestNotFound(t *testing.T) {
	h, _ := newTestHandlers(t, nil)
	if code := do(t, h, http.MethodGet, "/nope", "", nil); code != http.StatusNotFound {
		t.Errorf("status = %d", code)
	}
}
