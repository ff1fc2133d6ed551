// Package timeline maps the shared virtual clock onto each source's own
// timeline and picks the frame each source should show.
//
// A source's local time is clock + offset. The synchronizer resolves both
// sources concurrently: a cached frame on the right grid index is used as
// is, anything else waits for the decoder for at most Config.Timeout, after
// which the most recent frame is shown and flagged Stale. Sources are never
// interpolated; with different frame rates each source simply shows the
// frame whose presentation time was most recently reached.
//
// The package also estimates offsets, either by aligning the ends of the two
// sources or by matching perceptual hashes of sampled frames.
package timeline
