// Package playback drives the virtual clock of a comparison session.
//
// A Controller owns the session's SyncState and a single loop goroutine
// that is its only writer. Commands (play, pause, seek, mode changes and so
// on) are queued to the loop and applied between render ticks, never while a
// frame pair is being composed. Other goroutines read the state through
// Snapshot, which returns an immutable copy.
//
// While playing, the loop ticks at the higher of the two source frame rates
// (capped by Config.MaxTickRate). Each tick resolves a frame pair at the
// current clock, composes it and publishes the result on a one-slot channel
// where a newer output replaces one the consumer has not read yet. A tick
// that starts more than one interval late is skipped rather than queued.
package playback
