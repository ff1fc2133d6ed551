package metrics

// Sources are the label values used for the two sides of a comparison.
var Sources = []string{"a", "b"}

// ComposeModes are the label values used for ComposeDuration.
var ComposeModes = []string{"side-by-side", "overlay", "wipe"}

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, src := range Sources {
		DecodeFramesTotal.WithLabelValues(src)
		DecodeSubstitutedTotal.WithLabelValues(src)
		DecodeReopensTotal.WithLabelValues(src)
		DecodeLatency.WithLabelValues(src)
		SyncTimeoutsTotal.WithLabelValues(src)
		for _, kind := range []string{"corrupt", "fatal"} {
			DecodeErrorsTotal.WithLabelValues(src, kind)
		}
	}

	for _, result := range []string{"hit", "miss"} {
		CacheLookupsTotal.WithLabelValues(result)
	}
	for _, reason := range []string{"capacity", "explicit", "pressure", "reset"} {
		CacheEvictionsTotal.WithLabelValues(reason)
	}

	for _, mode := range ComposeModes {
		ComposeDuration.WithLabelValues(mode)
	}

	for _, status := range []string{"success", "unreadable", "error"} {
		SessionsOpenedTotal.WithLabelValues(status)
	}

	for _, transport := range []string{"mjpeg", "websocket"} {
		StreamClients.WithLabelValues(transport)
	}

	for _, op := range []string{"initialize_schema", "get_settings", "save_settings", "delete_settings", "list_recent"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, op := range []string{"stat", "open"} {
		for _, vol := range []string{"source", "database", "unknown"} {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}
}
