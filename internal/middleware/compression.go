package middleware

import (
	"compress/gzip"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// CompressionConfig configures gzip for JSON API responses.
type CompressionConfig struct {
	// MinSize is the smallest body that is compressed.
	MinSize int
	Level   int
	// CompressibleTypes lists media types that are compressed.
	CompressibleTypes []string
	// SkipSuffixes are path suffixes that are never compressed. Composed
	// frames are already JPEG and event sockets are hijacked.
	SkipSuffixes []string
}

// DefaultCompressionConfig returns the default configuration.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:           1024,
		Level:             gzip.DefaultCompression,
		CompressibleTypes: []string{"application/json", "text/plain"},
		SkipSuffixes:      []string{"/frame.jpg", "/stream.mjpeg", "/events"},
	}
}

func (c CompressionConfig) skips(r *http.Request) bool {
	if r.Header.Get("Upgrade") != "" || !acceptsGzip(r.Header.Get("Accept-Encoding")) {
		return true
	}
	for _, suffix := range c.SkipSuffixes {
		if strings.HasSuffix(r.URL.Path, suffix) {
			return true
		}
	}
	return false
}

func (c CompressionConfig) compressible(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, t := range c.CompressibleTypes {
		if mediaType == t {
			return true
		}
	}
	return false
}

// acceptsGzip reports whether an Accept-Encoding header allows gzip. An
// explicit q=0 refuses it.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != "gzip" && coding != "*" {
			continue
		}
		q, ok := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !ok {
			return true
		}
		v, err := strconv.ParseFloat(q, 64)
		return err == nil && v > 0
	}
	return false
}

var gzipPools sync.Map // level -> *sync.Pool

func gzipPool(level int) *sync.Pool {
	if p, ok := gzipPools.Load(level); ok {
		return p.(*sync.Pool)
	}
	p, _ := gzipPools.LoadOrStore(level, &sync.Pool{
		New: func() any {
			w, err := gzip.NewWriterLevel(io.Discard, level)
			if err != nil {
				w = gzip.NewWriter(io.Discard)
			}
			return w
		},
	})
	return p.(*sync.Pool)
}

// gzipResponseWriter holds the body back until MinSize bytes arrive, the
// handler flushes, or the handler returns, then commits to gzip or identity.
type gzipResponseWriter struct {
	http.ResponseWriter
	config  CompressionConfig
	status  int
	pending []byte
	gz      *gzip.Writer
	pool    *sync.Pool
	decided bool
}

func newGzipResponseWriter(w http.ResponseWriter, config CompressionConfig) *gzipResponseWriter {
	return &gzipResponseWriter{ResponseWriter: w, config: config, status: http.StatusOK}
}

func (g *gzipResponseWriter) WriteHeader(status int) {
	if !g.decided {
		g.status = status
	}
}

func (g *gzipResponseWriter) Write(p []byte) (int, error) {
	if g.decided {
		if g.gz != nil {
			return g.gz.Write(p)
		}
		return g.ResponseWriter.Write(p)
	}
	g.pending = append(g.pending, p...)
	if len(g.pending) >= g.config.MinSize {
		if err := g.commit(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// commit picks the encoding and writes the status line and pending body.
func (g *gzipResponseWriter) commit() error {
	if g.decided {
		return nil
	}
	g.decided = true

	h := g.Header()
	bodyless := g.status == http.StatusNoContent || g.status == http.StatusNotModified
	if !bodyless && len(g.pending) >= g.config.MinSize && h.Get("Content-Encoding") == "" &&
		g.config.compressible(h.Get("Content-Type")) {
		h.Del("Content-Length")
		h.Set("Content-Encoding", "gzip")
		h.Add("Vary", "Accept-Encoding")
		g.pool = gzipPool(g.config.Level)
		g.gz = g.pool.Get().(*gzip.Writer)
		g.gz.Reset(g.ResponseWriter)
	}

	g.ResponseWriter.WriteHeader(g.status)
	pending := g.pending
	g.pending = nil
	if len(pending) == 0 {
		return nil
	}
	var err error
	if g.gz != nil {
		_, err = g.gz.Write(pending)
	} else {
		_, err = g.ResponseWriter.Write(pending)
	}
	return err
}

func (g *gzipResponseWriter) Flush() {
	_ = g.commit()
	if g.gz != nil {
		_ = g.gz.Flush()
	}
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *gzipResponseWriter) Unwrap() http.ResponseWriter { return g.ResponseWriter }

// Close commits anything still held back and returns the gzip writer to its
// pool.
func (g *gzipResponseWriter) Close() error {
	err := g.commit()
	if g.gz != nil {
		if cerr := g.gz.Close(); err == nil {
			err = cerr
		}
		g.pool.Put(g.gz)
		g.gz = nil
	}
	return err
}

// Compression returns a middleware that gzips JSON API responses.
func Compression(config CompressionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.skips(r) {
				next.ServeHTTP(w, r)
				return
			}
			gzw := newGzipResponseWriter(w, config)
			defer gzw.Close()
			next.ServeHTTP(gzw, r)
		})
	}
}
