// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig].
// The following environment variables are supported:
//
//   - PORT: HTTP server port (default: 8080)
//   - BIND_ADDR: Listen address of both servers (default: 127.0.0.1)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - DATABASE_DIR: Directory of the settings database (default: ./data)
//   - CACHE_SECONDS: Decoded frames kept per source, in seconds (default: 2)
//   - SYNC_TIMEOUT: Wait for a frame before showing a stale one (default: 200ms)
//   - RUN_AHEAD: Background decode distance (default: 500ms). CACHE_SECONDS
//     must hold RUN_AHEAD plus 1s of history.
//   - REOPEN_GAP: Largest forward jump decoded through instead of reopening (default: 2s)
//   - MAX_TICK_RATE: Render rate cap in ticks per second (default: 60)
//   - END_POLICY: hold-last or pause-at-shorter (default: hold-last)
//   - DECODE_THREADS: ffmpeg threads per source (default: derived from CPUs)
//   - FFMPEG_PATH, FFPROBE_PATH: Decoder binaries (default: from PATH)
//   - JPEG_QUALITY: Quality of frame snapshots and MJPEG parts (default: 80)
//   - MAX_SESSIONS: Open session limit, 0 for none (default: 4)
//   - SOURCE_VOLUMES: name=/path pairs labelling source mounts in retry metrics
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_FRAMES: Log frame snapshot requests (default: false)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - MEMORY_LIMIT: Container memory limit for automatic GOMEMLIMIT configuration
//   - MEMORY_RATIO: Share of MEMORY_LIMIT for the Go heap (default: 0.85)
//   - GOMEMLIMIT: Direct override for Go's memory limit
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo]:
//   - Version: Application version
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//   - GoVersion: Go compiler version
//
// # Lifecycle Logging
//
//   - [LogMemoryConfig]: Memory limit configuration
//   - [LogDatabaseInit]: Settings store initialization timing
//   - [LogDecoderInit]: FFmpeg availability
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Server endpoints and startup duration
//   - [LogShutdownInitiated], [LogShutdownStep], [LogShutdownComplete]: Graceful shutdown
package startup
