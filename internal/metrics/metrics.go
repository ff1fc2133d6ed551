package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_compare_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	StreamClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "video_compare_stream_clients",
			Help: "Connected output consumers by transport",
		},
		[]string{"transport"}, // "mjpeg", "websocket"
	)
)

// Decode metrics
var (
	DecodeFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_decode_frames_total",
			Help: "Total number of frames read from decode streams",
		},
		[]string{"source"},
	)

	DecodeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_decode_errors_total",
			Help: "Total number of per-frame decode failures",
		},
		[]string{"source", "kind"}, // "corrupt", "fatal"
	)

	DecodeSubstitutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_decode_substituted_total",
			Help: "Frames replaced by the last successfully decoded frame",
		},
		[]string{"source"},
	)

	DecodeReopensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_decode_reopens_total",
			Help: "Decode stream reopens caused by seeks outside the forward window",
		},
		[]string{"source"},
	)

	DecodeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_compare_decode_latency_seconds",
			Help:    "Time to produce a single decoded frame",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"source"},
	)

	DecoderProcesses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_decoder_processes",
			Help: "Number of live decoder subprocesses",
		},
	)
)

// Frame cache metrics
var (
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_cache_lookups_total",
			Help: "Frame cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	CacheEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_cache_evictions_total",
			Help: "Frames evicted from frame caches by reason",
		},
		[]string{"reason"}, // "capacity", "explicit", "pressure", "reset"
	)

	CacheFrames = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_cache_frames",
			Help: "Frames currently held by all frame caches",
		},
	)

	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_cache_bytes",
			Help: "Pixel bytes currently held by all frame caches",
		},
	)
)

// Synchronizer and render loop metrics
var (
	SyncTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_sync_timeouts_total",
			Help: "Cache-miss decode waits that exceeded the synchronizer timeout",
		},
		[]string{"source"},
	)

	SyncResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_compare_sync_resolve_duration_seconds",
			Help:    "Time to resolve one frame pair",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)

	RenderTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "video_compare_render_ticks_total",
			Help: "Render ticks that produced an output image",
		},
	)

	RenderDroppedTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "video_compare_render_dropped_ticks_total",
			Help: "Render ticks skipped because the previous tick overran its budget",
		},
	)

	RenderTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_compare_render_tick_duration_seconds",
			Help:    "Resolve plus compose time for one render tick",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.033, 0.05, 0.1, 0.25},
		},
	)

	ComposeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_compare_compose_duration_seconds",
			Help:    "Compositor time per output image by mode",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
		[]string{"mode"},
	)

	OutputOverwritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "video_compare_output_overwrites_total",
			Help: "Composed outputs replaced before the consumer read them",
		},
	)
)

// Session metrics
var (
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_sessions_active",
			Help: "Number of open comparison sessions",
		},
	)

	SessionsPlaying = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_sessions_playing",
			Help: "Number of sessions currently playing",
		},
	)

	SessionsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_sessions_opened_total",
			Help: "Session open attempts by status",
		},
		[]string{"status"}, // "success", "unreadable", "error"
	)

	SessionEventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "video_compare_session_events_dropped_total",
			Help: "Error events dropped because the event channel was full",
		},
	)
)

// Settings store metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_db_queries_total",
			Help: "Total number of settings store queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_compare_db_query_duration_seconds",
			Help:    "Settings store query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// Memory metrics
var (
	GoMemLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_go_memlimit_bytes",
			Help: "Configured GOMEMLIMIT in bytes (0 if unset)",
		},
	)

	GoMemAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_go_mem_alloc_bytes",
			Help: "Current Go heap allocation in bytes",
		},
	)

	GoMemSysBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_go_mem_sys_bytes",
			Help: "Total memory obtained from the OS by the Go runtime",
		},
	)

	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPressure = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "video_compare_memory_pressure",
			Help: "Whether memory usage is above the critical watermark (1 = yes)",
		},
	)

	MemoryPressureEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "video_compare_memory_pressure_events_total",
			Help: "Times memory crossed the critical watermark",
		},
	)
)

// Filesystem metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_filesystem_retry_attempts_total",
			Help: "Filesystem operation retries after a stale file handle",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_filesystem_retry_success_total",
			Help: "Filesystem operations that succeeded after retrying",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_compare_filesystem_stale_errors_total",
			Help: "Stale file handle errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_compare_filesystem_retry_duration_seconds",
			Help:    "Total time spent in a retried filesystem operation",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation", "volume"},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "video_compare_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
