/*
Package streaming writes composed comparison frames to HTTP clients.

ServeMJPEG turns a session subscription into a multipart/x-mixed-replace
stream that browsers render as live video. Each part is one JPEG with the
session clock and output sequence number in its headers:

	frames, cancel := sess.Subscribe()
	defer cancel()
	err := streaming.ServeMJPEG(r.Context(), w, frames, streaming.DefaultMJPEGConfig())
	if err != nil && !streaming.IsDisconnect(err) {
		logging.Warn("MJPEG stream: %v", err)
	}

Writes go through a TimeoutWriter. It bounds and flushes every write, and
cancels the stream when the client stalls or stays idle for IdleTimeout. The sentinel errors ErrWriteTimeout, ErrClientGone and
ErrStreamCanceled tell the cases apart.
*/
package streaming
