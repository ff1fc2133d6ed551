// Package metrics provides Prometheus instrumentation for the comparison engine.
//
// All metrics are prefixed with "video_compare_". Source-scoped metrics carry a
// "source" label whose value is the side of the comparison ("a" or "b"), which
// keeps cardinality fixed no matter how many sessions are open.
//
// # Metric Categories
//
// ## Decode
//   - DecodeFramesTotal: frames read from a decode stream, by source
//   - DecodeErrorsTotal: per-frame decode failures by source and kind (corrupt, fatal)
//   - DecodeSubstitutedTotal: frames replaced by the last good frame
//   - DecodeReopensTotal: stream reopens caused by seeks outside the decode window
//   - DecodeLatency: time spent producing one frame
//   - DecoderProcesses: live decoder subprocesses
//
// ## Frame cache
//   - CacheLookupsTotal: lookups by result (hit, miss)
//   - CacheEvictionsTotal: evicted frames by reason (capacity, explicit, pressure, reset)
//   - CacheFrames: frames currently held across all open sessions
//   - CacheBytes: pixel bytes currently held across all open sessions
//
// ## Synchronizer and render loop
//   - SyncTimeoutsTotal: cache-miss waits that hit the deadline, by source
//   - SyncResolveDuration: time to resolve one frame pair
//   - RenderTicksTotal / RenderDroppedTicksTotal: produced and skipped ticks
//   - RenderTickDuration: resolve plus compose time for one tick
//   - ComposeDuration: compositor time by mode
//   - OutputOverwritesTotal: outputs replaced before the consumer read them
//
// ## Sessions, HTTP, settings store, memory, filesystem
//
// See the variable declarations in metrics.go.
//
// # Usage
//
// Metrics are registered with the default registry through promauto at
// package initialization. [InitializeMetrics] pre-populates label
// combinations so that every series is exported from the first scrape, and
// [Collector] refreshes gauges derived from live session state.
package metrics
