// Package main provides the entry point for the video-compare server.
//
// video-compare opens two video sources side by side, keeps them on one shared
// timeline and renders a composited comparison (side by side, wipe, overlay
// or difference) that is served as JPEG snapshots and MJPEG streams. Playback
// is driven through a JSON API; state and error events are pushed over a
// WebSocket.
//
// # Application Lifecycle
//
//  1. Memory Configuration: Sets GOMEMLIMIT from environment or cgroup limits
//  2. Configuration Loading: Reads environment variables and validates them
//  3. Settings Store: Opens the SQLite database of per-pair settings
//  4. Component Initialization:
//     - Decoder check: Probes ffmpeg/ffprobe (synthetic sources work without)
//     - Memory Monitor: Shrinks frame caches under memory pressure
//     - Session Manager: Owns open comparison sessions
//     - Metrics Collector: Publishes session and cache gauges
//  5. HTTP Server Setup: Routes, middleware chain, main and metrics servers
//  6. Graceful Shutdown: Handles SIGINT/SIGTERM, stops all components cleanly
//
// # HTTP Servers
//
//  1. Main Server (default 127.0.0.1:8080):
//     - /api/sessions: create, list, inspect and close sessions
//     - /api/sessions/{id}/...: transport, settings, frame.jpg,
//     stream.mjpeg and the events WebSocket
//     - /health, /healthz, /livez, /version
//
//  2. Metrics Server (default port 9090, optional):
//     - Prometheus metrics endpoint (/metrics)
//     - Health check endpoint (/health)
//
// # Environment Variables
//
// See [video-compare/internal/startup] for the full list. The most common:
//
//   - PORT, BIND_ADDR: Main server address
//   - METRICS_PORT, METRICS_ENABLED: Metrics server
//   - DATABASE_DIR: Directory for settings.db
//   - CACHE_SECONDS, RUN_AHEAD, SYNC_TIMEOUT: Decode and sync tuning
//   - END_POLICY: hold-last or pause-at-shorter
//   - MAX_SESSIONS: Concurrent session limit
//   - FFMPEG_PATH, FFPROBE_PATH: Decoder binaries
//
// # Graceful Shutdown
//
//  1. Close all sessions (ends streams and event sockets)
//  2. Shutdown main HTTP server (30s timeout)
//  3. Stop metrics collector
//  4. Stop memory monitor
//  5. Kill remaining ffmpeg processes
//  6. Shutdown metrics server (if running)
//  7. Close the settings store
//
// # Build Requirements
//
// CGO is required for SQLite. FFmpeg is needed at runtime for file sources:
//
//	go build -o video-compare ./cmd/video-compare
//
// # Related Packages
//
//   - [video-compare/internal/session]: Sessions and the session manager
//   - [video-compare/internal/playback]: Playback controller
//   - [video-compare/internal/timeline]: Frame pair synchronization
//   - [video-compare/internal/compositor]: Comparison rendering
//   - [video-compare/internal/decoder]: Decoder adapters and backends
//   - [video-compare/internal/handlers]: HTTP request handlers
//   - [video-compare/internal/startup]: Configuration and initialization
package main
