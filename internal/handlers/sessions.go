package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"video-compare/internal/compositor"
	"video-compare/internal/logging"
	"video-compare/internal/media"
	"video-compare/internal/playback"
	"video-compare/internal/session"
	"video-compare/internal/settings"
	"video-compare/internal/streaming"
)

// CreateSessionRequest opens either two files or one split file.
type CreateSessionRequest struct {
	RefA  string `json:"refA,omitempty"`
	RefB  string `json:"refB,omitempty"`
	Split string `json:"split,omitempty"`
}

// StateView is the playback state with durations in milliseconds.
type StateView struct {
	State      string  `json:"state"`
	ClockMs    int64   `json:"clockMs"`
	DurationMs int64   `json:"durationMs"`
	OffsetMs   int64   `json:"offsetMs"`
	Rate       float64 `json:"rate"`
	Speed      float64 `json:"speed"`
	Mode       string  `json:"mode"`
	Threshold  uint8   `json:"threshold"`
	ColorMap   string  `json:"colorMap"`
	Division   float64 `json:"division"`
	EndPolicy  string  `json:"endPolicy"`
}

func newStateView(st playback.SyncState) StateView {
	return StateView{
		State:      st.State.String(),
		ClockMs:    st.Clock.Milliseconds(),
		DurationMs: st.Duration.Milliseconds(),
		OffsetMs:   st.Offsets[1].Milliseconds(),
		Rate:       st.Rate,
		Speed:      st.Speed,
		Mode:       st.Mode.String(),
		Threshold:  st.Threshold,
		ColorMap:   st.ColorMap.String(),
		Division:   st.Division,
		EndPolicy:  st.EndPolicy.String(),
	}
}

// SessionView describes an open session.
type SessionView struct {
	ID           string        `json:"id"`
	RefA         string        `json:"refA"`
	RefB         string        `json:"refB"`
	Created      time.Time     `json:"created"`
	Sources      [2]media.Info `json:"sources"`
	State        StateView     `json:"state"`
	CachedFrames int           `json:"cachedFrames"`
	CachedBytes  int64         `json:"cachedBytes"`
}

func newSessionView(s *session.Session) SessionView {
	refs := s.Refs()
	frames, bytes := s.CacheStats()
	return SessionView{
		ID:           s.ID(),
		RefA:         refs[0],
		RefB:         refs[1],
		Created:      s.Created(),
		Sources:      s.Sources(),
		State:        newStateView(s.State()),
		CachedFrames: frames,
		CachedBytes:  bytes,
	}
}

// CreateSession opens a comparison session and restores any settings saved
// for the same pair.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var (
		s   *session.Session
		err error
	)
	switch {
	case req.Split != "" && req.RefA == "" && req.RefB == "":
		s, err = h.sessions.OpenSplit(r.Context(), req.Split)
	case req.Split == "" && req.RefA != "" && req.RefB != "":
		s, err = h.sessions.Open(r.Context(), req.RefA, req.RefB)
	default:
		err = fmt.Errorf("%w: give refA and refB, or split", session.ErrInvalidArgument)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	h.restoreSettings(r.Context(), s)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Location", "/api/sessions/"+s.ID())
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, newSessionView(s))
}

// ListSessions lists open sessions, oldest first.
func (h *Handlers) ListSessions(w http.ResponseWriter, _ *http.Request) {
	list := h.sessions.List()
	views := make([]SessionView, 0, len(list))
	for _, s := range list {
		views = append(views, newSessionView(s))
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, views)
}

// GetSession describes one session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, newSessionView(s))
}

// DeleteSession closes a session.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Close(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecentSettings lists the most recently saved pair settings.
func (h *Handlers) RecentSettings(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, []settings.Settings{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, list)
}

// Play starts or resumes playback.
func (h *Handlers) Play(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, false, (*session.Session).Play)
}

// Pause freezes the clock.
func (h *Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, false, (*session.Session).Pause)
}

// Stop rewinds to the start.
func (h *Handlers) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, false, (*session.Session).Stop)
}

// Seek moves the clock to {"ms": n}.
func (h *Handlers) Seek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ms *int64 `json:"ms"`
	}
	h.withBody(w, r, &req, false, func(s *session.Session) error {
		if req.Ms == nil {
			return fmt.Errorf("%w: ms is required", session.ErrInvalidArgument)
		}
		return s.Seek(time.Duration(*req.Ms) * time.Millisecond)
	})
}

// Step moves {"frames": n} frames of the reference source while paused.
func (h *Handlers) Step(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frames int `json:"frames"`
	}
	h.withBody(w, r, &req, false, func(s *session.Session) error {
		return s.Step(req.Frames)
	})
}

// SetMode selects the composition mode with {"mode": name}.
func (h *Handlers) SetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	h.withBody(w, r, &req, true, func(s *session.Session) error {
		m, err := compositor.ParseMode(req.Mode)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
		}
		return s.SetMode(m)
	})
}

// SetOverlay sets the difference threshold and colour map.
func (h *Handlers) SetOverlay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Threshold *int   `json:"threshold"`
		ColorMap  string `json:"colorMap"`
	}
	h.withBody(w, r, &req, true, func(s *session.Session) error {
		st := s.State()
		threshold, cm := st.Threshold, st.ColorMap
		if req.Threshold != nil {
			if *req.Threshold < 0 || *req.Threshold > 255 {
				return fmt.Errorf("%w: threshold %d outside [0, 255]", session.ErrInvalidArgument, *req.Threshold)
			}
			threshold = uint8(*req.Threshold)
		}
		if req.ColorMap != "" {
			var err error
			if cm, err = compositor.ParseColorMap(req.ColorMap); err != nil {
				return fmt.Errorf("%w: %v", session.ErrInvalidArgument, err)
			}
		}
		return s.SetOverlayParams(threshold, cm)
	})
}

// SetOffset sets the offset of source B relative to A with {"ms": n}.
func (h *Handlers) SetOffset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ms int64 `json:"ms"`
	}
	h.withBody(w, r, &req, true, func(s *session.Session) error {
		return s.SetOffset(time.Duration(req.Ms) * time.Millisecond)
	})
}

// AutoOffset estimates and applies the offset with {"method": name}.
func (h *Handlers) AutoOffset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
	}
	h.withBody(w, r, &req, true, func(s *session.Session) error {
		method, err := session.ParseOffsetMethod(req.Method)
		if err != nil {
			return err
		}
		_, err = s.AutoOffset(r.Context(), method)
		return err
	})
}

// SetDivision moves the wipe divider with {"division": f}.
func (h *Handlers) SetDivision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Division float64 `json:"division"`
	}
	h.withBody(w, r, &req, true, func(s *session.Session) error {
		return s.SetDivision(req.Division)
	})
}

// SetSpeed sets the playback speed with {"speed": f}.
func (h *Handlers) SetSpeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Speed float64 `json:"speed"`
	}
	h.withBody(w, r, &req, true, func(s *session.Session) error {
		return s.SetSpeed(req.Speed)
	})
}

// SetEndPolicy selects what happens at the end with {"policy": name}.
func (h *Handlers) SetEndPolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Policy string `json:"policy"`
	}
	h.withBody(w, r, &req, true, func(s *session.Session) error {
		p, err := playback.ParseEndPolicy(req.Policy)
		if err != nil {
			return err
		}
		return s.SetEndPolicy(p)
	})
}

// Frame returns the latest composed output as a JPEG.
func (h *Handlers) Frame(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	out, ok := s.Latest()
	if !ok || out.Image == nil {
		writeJSONError(w, "no frame rendered yet", http.StatusServiceUnavailable)
		return
	}

	var buf bytes.Buffer
	if err := media.EncodeJPEG(&buf, out.Image, h.opts.JPEGQuality); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Clock-Ms", strconv.FormatInt(out.Clock.Milliseconds(), 10))
	w.Header().Set("X-Seq", strconv.FormatUint(out.Seq, 10))
	if _, err := w.Write(buf.Bytes()); err != nil {
		logging.Debug("frame write failed: %v", err)
	}
}

// Stream serves composed outputs as MJPEG until the client leaves or the
// session closes.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	frames, cancel := s.Subscribe()
	defer cancel()

	cfg := h.opts.MJPEG
	if cfg.Quality <= 0 {
		cfg.Quality = h.opts.JPEGQuality
	}
	err := streaming.ServeMJPEG(r.Context(), w, frames, cfg)
	if err != nil && !streaming.IsDisconnect(err) {
		logging.Warn("mjpeg stream for session %s ended: %v", s.ID(), err)
	}
}

// lookup resolves the {id} route variable, writing 404 when it is unknown.
func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return s, true
}

// command runs fn on the session and responds with the new state. When save
// is set the pair settings are persisted afterwards.
func (h *Handlers) command(w http.ResponseWriter, r *http.Request, save bool, fn func(*session.Session) error) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := fn(s); err != nil {
		writeError(w, err)
		return
	}
	if save {
		h.saveSettings(r.Context(), s)
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, newStateView(s.State()))
}

// withBody decodes the request body into req before running fn.
func (h *Handlers) withBody(w http.ResponseWriter, r *http.Request, req interface{}, save bool, fn func(*session.Session) error) {
	if err := decodeJSON(r, req); err != nil {
		writeError(w, err)
		return
	}
	h.command(w, r, save, fn)
}

func (h *Handlers) saveSettings(ctx context.Context, s *session.Session) {
	if h.store == nil {
		return
	}
	refs := s.Refs()
	if err := h.store.Save(ctx, settings.FromState(refs[0], refs[1], s.State())); err != nil {
		logging.Warn("failed to save settings for session %s: %v", s.ID(), err)
	}
}

// restoreSettings applies saved settings for the session's pair. Failures
// leave the defaults in place.
func (h *Handlers) restoreSettings(ctx context.Context, s *session.Session) {
	if h.store == nil {
		return
	}
	refs := s.Refs()
	saved, err := h.store.Get(ctx, refs[0], refs[1])
	if errors.Is(err, settings.ErrNotFound) {
		return
	}
	if err != nil {
		logging.Warn("failed to load settings for %s / %s: %v", refs[0], refs[1], err)
		return
	}

	err = errors.Join(
		s.SetOffset(saved.Offset),
		s.SetMode(saved.Mode),
		s.SetOverlayParams(saved.Threshold, saved.ColorMap),
		s.SetDivision(saved.Division),
		s.SetSpeed(saved.Speed),
		s.SetEndPolicy(saved.EndPolicy),
	)
	if err != nil {
		logging.Warn("settings for session %s only partly restored: %v", s.ID(), err)
		return
	}
	logging.Debug("restored settings for session %s", s.ID())
}
