package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"video-compare/internal/session"
	"video-compare/internal/settings"
	"video-compare/internal/streaming"
)

// Options configures the handlers.
type Options struct {
	JPEGQuality int
	MJPEG       streaming.MJPEGConfig
	// StateInterval is how often a WebSocket client receives the session
	// state.
	StateInterval time.Duration
}

// DefaultOptions returns the default handler options.
func DefaultOptions() Options {
	return Options{
		JPEGQuality:   80,
		MJPEG:         streaming.DefaultMJPEGConfig(),
		StateInterval: 500 * time.Millisecond,
	}
}

type Handlers struct {
	sessions *session.Manager
	store    *settings.Store
	opts     Options
	started  time.Time
}

// New creates the handlers. store may be nil, in which case settings are not
// persisted.
func New(sessions *session.Manager, store *settings.Store, opts Options) *Handlers {
	return &Handlers{
		sessions: sessions,
		store:    store,
		opts:     opts,
		started:  time.Now(),
	}
}

// Router builds the route table.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/settings/recent", h.RecentSettings).Methods("GET")

	s := api.PathPrefix("/sessions/{id}").Subrouter()
	s.HandleFunc("", h.GetSession).Methods("GET")
	s.HandleFunc("", h.DeleteSession).Methods("DELETE")

	s.HandleFunc("/play", h.Play).Methods("POST")
	s.HandleFunc("/pause", h.Pause).Methods("POST")
	s.HandleFunc("/stop", h.Stop).Methods("POST")
	s.HandleFunc("/seek", h.Seek).Methods("POST")
	s.HandleFunc("/step", h.Step).Methods("POST")

	s.HandleFunc("/mode", h.SetMode).Methods("PUT")
	s.HandleFunc("/overlay", h.SetOverlay).Methods("PUT")
	s.HandleFunc("/offset", h.SetOffset).Methods("PUT")
	s.HandleFunc("/offset/auto", h.AutoOffset).Methods("POST")
	s.HandleFunc("/division", h.SetDivision).Methods("PUT")
	s.HandleFunc("/speed", h.SetSpeed).Methods("PUT")
	s.HandleFunc("/end-policy", h.SetEndPolicy).Methods("PUT")

	s.HandleFunc("/frame.jpg", h.Frame).Methods("GET")
	s.HandleFunc("/stream.mjpeg", h.Stream).Methods("GET")
	s.HandleFunc("/events", h.Events).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, "not found", http.StatusNotFound)
	})
	return r
}
