// Package handlers provides the HTTP and WebSocket control surface of the
// comparison engine.
//
// It includes handlers for:
//   - Opening, listing and closing comparison sessions
//   - Playback commands (play, pause, stop, seek, step)
//   - Composition settings (mode, overlay, offset, wipe division, speed)
//   - Composed output as a JPEG snapshot or an MJPEG stream
//   - Error events and state updates over a WebSocket
//   - Health checks and version information
package handlers
