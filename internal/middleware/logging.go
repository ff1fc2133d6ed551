package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"video-compare/internal/logging"
)

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status   int
	bytes    int64
	written  bool
	hijacked bool
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *statusRecorder) WriteHeader(code int) {
	if rw.written {
		return
	}
	rw.status = code
	rw.written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.written = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

func (rw *statusRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets WebSocket upgrades through. A hijacked connection is logged
// with status 101.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		rw.status = http.StatusSwitchingProtocols
		rw.written = true
		rw.hijacked = true
	}
	return conn, buf, err
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// requestKind groups requests for access logging.
type requestKind string

const (
	kindAPI    requestKind = "api"
	kindFrame  requestKind = "frame"
	kindStream requestKind = "stream"
	kindEvents requestKind = "events"
	kindHealth requestKind = "health"
)

var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/version": true,
}

func classify(path string) requestKind {
	switch {
	case healthCheckPaths[path]:
		return kindHealth
	case strings.HasSuffix(path, "/frame.jpg"):
		return kindFrame
	case strings.HasSuffix(path, "/stream.mjpeg"):
		return kindStream
	case strings.HasSuffix(path, "/events"):
		return kindEvents
	}
	return kindAPI
}

// longLived reports whether a request holds its connection for the life of
// a session.
func (k requestKind) longLived() bool {
	return k == kindStream || k == kindEvents
}

// LoggingConfig holds configuration for the access log.
type LoggingConfig struct {
	SkipPaths []string
	// LogFrames enables logging of frame.jpg snapshots, which displays may
	// poll many times a second.
	LogFrames       bool
	LogHealthChecks bool
}

// DefaultLoggingConfig returns the default configuration.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:       []string{},
		LogHealthChecks: true,
	}
}

func (c LoggingConfig) skip(path string, kind requestKind) bool {
	for _, p := range c.SkipPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	switch kind {
	case kindHealth:
		return !c.LogHealthChecks
	case kindFrame:
		return !c.LogFrames
	}
	return false
}

// accessRecord is one access log line.
//
//	date time c-ip cs-method cs-uri-stem cs-uri-query sc-status sc-bytes
//	time-taken x-kind x-session sc(Content-Encoding) cs(User-Agent)
type accessRecord struct {
	at        time.Time
	clientIP  string
	method    string
	path      string
	query     string
	status    int
	bytes     int64
	taken     time.Duration
	kind      requestKind
	session   string
	encoding  string
	userAgent string
}

func newAccessRecord(r *http.Request, kind requestKind) accessRecord {
	return accessRecord{
		clientIP:  sanitizeLogField(getClientIP(r)),
		method:    sanitizeLogField(r.Method),
		path:      sanitizeLogField(r.URL.Path),
		query:     sanitizeLogField(r.URL.RawQuery),
		kind:      kind,
		session:   sanitizeLogField(sessionFromPath(r.URL.Path)),
		userAgent: quoteField(sanitizeLogField(r.UserAgent())),
	}
}

func (a accessRecord) String() string {
	at := a.at.UTC()
	fields := []string{
		at.Format("2006-01-02"),
		at.Format("15:04:05"),
		orDash(a.clientIP),
		a.method,
		a.path,
		orDash(a.query),
		strconv.Itoa(a.status),
		strconv.FormatInt(a.bytes, 10),
		strconv.FormatInt(a.taken.Milliseconds(), 10),
		string(a.kind),
		orDash(a.session),
		orDash(a.encoding),
		orDash(a.userAgent),
	}
	return strings.Join(fields, " ")
}

// Logger returns the access log middleware. Streams and event sockets get an
// extra debug line when they open since their access line is only written
// when the client goes away.
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			kind := classify(r.URL.Path)
			if config.skip(r.URL.Path, kind) {
				next.ServeHTTP(w, r)
				return
			}

			rec := newAccessRecord(r, kind)
			if kind.longLived() {
				logging.Debug("%s opened: session=%s client=%s", kind, orDash(rec.session), rec.clientIP)
			}

			start := time.Now()
			rw := newStatusRecorder(w)
			next.ServeHTTP(rw, r)

			rec.at = time.Now()
			rec.taken = rec.at.Sub(start)
			rec.status = rw.status
			rec.bytes = rw.bytes
			if !rw.hijacked {
				rec.encoding = rw.Header().Get("Content-Encoding")
			}

			//nolint:gosec // every request-derived field passes through sanitizeLogField
			logging.Printf("%s", rec)
		})
	}
}

// sessionFromPath returns the session id of a /api/sessions/{id}/... path.
func sessionFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/sessions/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	return id
}

// sanitizeLogField removes control characters that could forge log lines or
// inject terminal escapes. Tabs are kept.
func sanitizeLogField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			b.WriteRune(' ')
		case r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// quoteField quotes a value containing spaces or quotes, doubling any quote.
func quoteField(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
