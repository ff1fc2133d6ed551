package streaming

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"video-compare/internal/logging"
	"video-compare/internal/media"
	"video-compare/internal/metrics"
	"video-compare/internal/playback"
)

// Boundary separates the parts of an MJPEG stream.
const Boundary = "videocompareframe"

// MJPEGConfig configures ServeMJPEG.
type MJPEGConfig struct {
	Writer  TimeoutWriterConfig
	Quality int
	// MaxFPS limits how often a part is written (0 = every output).
	MaxFPS float64
}

// DefaultMJPEGConfig returns the MJPEG defaults.
func DefaultMJPEGConfig() MJPEGConfig {
	return MJPEGConfig{
		Writer:  DefaultTimeoutWriterConfig(),
		Quality: 80,
		MaxFPS:  30,
	}
}

// ServeMJPEG writes composed outputs as a multipart/x-mixed-replace stream
// until frames is closed, the client goes away or a write fails. Outputs
// arriving faster than MaxFPS are coalesced; the latest one is written.
// A closed frames channel ends the stream with a closing boundary.
func ServeMJPEG(ctx context.Context, w http.ResponseWriter, frames <-chan playback.Output, cfg MJPEGConfig) error {
	tw := NewTimeoutWriter(ctx, w, cfg.Writer)
	defer tw.Close()

	metrics.StreamClients.WithLabelValues("mjpeg").Inc()
	defer metrics.StreamClients.WithLabelValues("mjpeg").Dec()

	h := w.Header()
	h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	var minInterval time.Duration
	if cfg.MaxFPS > 0 {
		minInterval = time.Duration(float64(time.Second) / cfg.MaxFPS)
	}

	var (
		buf   bytes.Buffer
		parts int
		last  time.Time
	)
	defer func() {
		n, d := tw.Stats()
		logging.Debug("MJPEG stream ended: %d parts, %d bytes in %v", parts, n, d.Round(time.Millisecond))
	}()

	for {
		if wait := minInterval - time.Since(last); !last.IsZero() && wait > 0 {
			select {
			case <-time.After(wait):
			case <-tw.Context().Done():
				return tw.contextError()
			}
		}

		var out playback.Output
		select {
		case o, ok := <-frames:
			if !ok {
				_, err := tw.Write([]byte("--" + Boundary + "--\r\n"))
				return err
			}
			out = o
		case <-tw.Context().Done():
			return tw.contextError()
		}
		if out.Image == nil {
			continue
		}

		buf.Reset()
		if err := WritePart(&buf, out, cfg.Quality); err != nil {
			return err
		}
		if _, err := tw.Write(buf.Bytes()); err != nil {
			return err
		}
		parts++
		last = time.Now()
	}
}

// WritePart encodes one output as a multipart body part.
func WritePart(buf *bytes.Buffer, out playback.Output, quality int) error {
	var jpg bytes.Buffer
	if err := media.EncodeJPEG(&jpg, out.Image, quality); err != nil {
		return fmt.Errorf("encode frame %d: %w", out.Seq, err)
	}

	fmt.Fprintf(buf, "--%s\r\n", Boundary)
	fmt.Fprintf(buf, "Content-Type: image/jpeg\r\n")
	fmt.Fprintf(buf, "Content-Length: %d\r\n", jpg.Len())
	fmt.Fprintf(buf, "X-Clock-Ms: %d\r\n", out.Clock.Milliseconds())
	fmt.Fprintf(buf, "X-Seq: %s\r\n\r\n", strconv.FormatUint(out.Seq, 10))
	buf.Write(jpg.Bytes())
	buf.WriteString("\r\n")
	return nil
}

// IsDisconnect reports whether err only means the client went away.
func IsDisconnect(err error) bool {
	return errors.Is(err, ErrClientGone) || errors.Is(err, context.Canceled)
}
