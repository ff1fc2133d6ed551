// Package framecache holds recently decoded frames of one source, ordered by
// presentation timestamp.
//
// The cache is a fixed-capacity ring. Frames enter in decode order, which
// within one decode run is PTS order; a frame older than the newest cached
// frame starts a new run and clears the ring first. Eviction is FIFO by
// timestamp and happens on insert. Lookups use nearest-not-after semantics:
// the frame on screen at time t is the last one whose PTS has been reached.
//
// Readers and the decode worker share the cache through an RWMutex. Frames
// are immutable, so a reader that obtained a frame keeps a valid picture even
// if the frame is evicted a moment later.
package framecache
