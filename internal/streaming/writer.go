package streaming

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"video-compare/internal/logging"
)

var (
	// ErrWriteTimeout indicates that a single write took longer than the
	// configured timeout, typically because the client reads too slowly.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates that the request context ended.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled indicates that the writer was closed or went idle.
	ErrStreamCanceled = errors.New("stream canceled")
)

// TimeoutWriterConfig configures a TimeoutWriter.
type TimeoutWriterConfig struct {
	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration
	// IdleTimeout cancels the stream when nothing was written for this long
	// (0 disables the check).
	IdleTimeout time.Duration
	// MaxDuration bounds the whole stream (0 = unlimited).
	MaxDuration time.Duration
}

// DefaultTimeoutWriterConfig returns the defaults for live frame streams.
// A paused session emits no frames, so the idle timeout is generous.
func DefaultTimeoutWriterConfig() TimeoutWriterConfig {
	return TimeoutWriterConfig{
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  10 * time.Minute,
	}
}

// TimeoutWriter wraps an http.ResponseWriter so that a stalled client
// cannot hold a stream open forever. Every write is flushed.
type TimeoutWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	config  TimeoutWriterConfig

	mu           sync.Mutex
	startTime    time.Time
	lastWrite    time.Time
	bytesWritten int64
	closed       bool
}

// NewTimeoutWriter creates a writer bound to ctx, usually the request
// context.
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config TimeoutWriterConfig) *TimeoutWriter {
	writerCtx, cancel := context.WithCancel(ctx)
	now := time.Now()
	tw := &TimeoutWriter{
		w:         w,
		parent:    ctx,
		ctx:       writerCtx,
		cancel:    cancel,
		config:    config,
		startTime: now,
		lastWrite: now,
	}
	if f, ok := w.(http.Flusher); ok {
		tw.flusher = f
	}
	go tw.idleChecker()
	return tw
}

// Context is cancelled when the stream ends for any reason.
func (tw *TimeoutWriter) Context() context.Context { return tw.ctx }

// Write writes p and flushes it, failing if the write does not finish within
// WriteTimeout.
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return 0, ErrStreamCanceled
	}
	if err := tw.ctx.Err(); err != nil {
		return 0, tw.contextError()
	}
	if tw.config.MaxDuration > 0 && time.Since(tw.startTime) > tw.config.MaxDuration {
		return 0, ErrWriteTimeout
	}

	type writeResult struct {
		n   int
		err error
	}
	resultCh := make(chan writeResult, 1)
	go func() {
		n, err := tw.w.Write(p)
		if err == nil && tw.flusher != nil {
			tw.flusher.Flush()
		}
		resultCh <- writeResult{n, err}
	}()

	timer := time.NewTimer(tw.config.WriteTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err == nil {
			tw.mu.Lock()
			tw.lastWrite = time.Now()
			tw.bytesWritten += int64(res.n)
			tw.mu.Unlock()
		}
		return res.n, res.err
	case <-timer.C:
		tw.cancel()
		return 0, ErrWriteTimeout
	case <-tw.ctx.Done():
		return 0, tw.contextError()
	}
}

func (tw *TimeoutWriter) idleChecker() {
	if tw.config.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(tw.config.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tw.mu.Lock()
			idle := time.Since(tw.lastWrite)
			tw.mu.Unlock()
			if idle > tw.config.IdleTimeout {
				logging.Warn("Stream idle for %v, closing", idle.Round(time.Second))
				tw.cancel()
				return
			}
		case <-tw.ctx.Done():
			return
		}
	}
}

func (tw *TimeoutWriter) contextError() error {
	if tw.parent.Err() != nil {
		return ErrClientGone
	}
	return ErrStreamCanceled
}

// Close ends the stream. It is safe to call more than once.
func (tw *TimeoutWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if !tw.closed {
		tw.closed = true
		tw.cancel()
	}
	return nil
}

// Stats returns the bytes written and the stream age.
func (tw *TimeoutWriter) Stats() (bytesWritten int64, duration time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten, time.Since(tw.startTime)
}
