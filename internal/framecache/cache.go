package framecache

import (
	"math"
	"sort"
	"sync"
	"time"

	"video-compare/internal/media"
	"video-compare/internal/metrics"
)

// MinCapacity is the smallest capacity a cache can be shrunk to. Two frames
// keep the at-or-before lookup useful while the next frame is decoded.
const MinCapacity = 2

// Stats is a point-in-time view of a cache.
type Stats struct {
	Len       int
	Cap       int
	Bytes     int64
	Oldest    time.Duration
	Newest    time.Duration
	Evictions uint64
}

// Cache is a PTS-ordered ring buffer of frames.
type Cache struct {
	mu        sync.RWMutex
	buf       []*media.Frame
	head      int // index of the oldest frame
	size      int
	bytes     int64
	evictions uint64
}

// New creates a cache holding at most capacity frames.
func New(capacity int) *Cache {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Cache{buf: make([]*media.Frame, capacity)}
}

// NewForDuration sizes a cache to hold d worth of frames at fps.
func NewForDuration(d time.Duration, fps float64) *Cache {
	return New(int(math.Ceil(d.Seconds() * fps)))
}

func (c *Cache) at(i int) *media.Frame {
	return c.buf[(c.head+i)%len(c.buf)]
}

// popOldest removes the oldest frame. Caller holds the write lock.
func (c *Cache) popOldest() {
	f := c.buf[c.head]
	c.buf[c.head] = nil
	c.head = (c.head + 1) % len(c.buf)
	c.size--
	c.bytes -= int64(f.Bytes())
	c.evictions++
}

// Put inserts f as the newest frame, evicting the oldest when full.
// A frame with the same PTS as the newest replaces it; an older one starts
// a new run and clears the cache.
func (c *Cache) Put(f *media.Frame) {
	if f == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size > 0 {
		newest := c.at(c.size - 1)
		switch {
		case f.PTS == newest.PTS:
			idx := (c.head + c.size - 1) % len(c.buf)
			c.bytes += int64(f.Bytes() - newest.Bytes())
			c.buf[idx] = f
			return
		case f.PTS < newest.PTS:
			metrics.CacheEvictionsTotal.WithLabelValues("reset").Add(float64(c.size))
			c.clear()
		}
	}

	if c.size == len(c.buf) {
		c.popOldest()
		metrics.CacheEvictionsTotal.WithLabelValues("capacity").Inc()
	}

	c.buf[(c.head+c.size)%len(c.buf)] = f
	c.size++
	c.bytes += int64(f.Bytes())
}

// search returns the logical index of the newest frame with PTS <= ts, or -1.
// Caller holds a read lock.
func (c *Cache) search(ts time.Duration) int {
	n := sort.Search(c.size, func(i int) bool { return c.at(i).PTS > ts })
	return n - 1
}

// GetAtOrBefore returns the newest frame whose PTS is not after ts, or nil.
func (c *Cache) GetAtOrBefore(ts time.Duration) *media.Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i := c.search(ts); i >= 0 {
		return c.at(i)
	}
	return nil
}

// EvictOlderThan drops every frame whose PTS is before ts and returns how
// many were dropped.
func (c *Cache) EvictOlderThan(ts time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for c.size > 0 && c.buf[c.head].PTS < ts {
		c.popOldest()
		n++
	}
	if n > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues("explicit").Add(float64(n))
	}
	return n
}

// Shrink lowers the capacity to capacity (at least MinCapacity), dropping
// the oldest frames that no longer fit. It returns the number dropped.
func (c *Cache) Shrink(capacity int) int {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if capacity >= len(c.buf) {
		return 0
	}

	dropped := 0
	for c.size > capacity {
		c.popOldest()
		dropped++
	}

	buf := make([]*media.Frame, capacity)
	for i := 0; i < c.size; i++ {
		buf[i] = c.at(i)
	}
	c.buf = buf
	c.head = 0

	if dropped > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues("pressure").Add(float64(dropped))
	}
	return dropped
}

// Reset empties the cache without changing its capacity.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.size > 0 {
		metrics.CacheEvictionsTotal.WithLabelValues("reset").Add(float64(c.size))
	}
	c.clear()
}

func (c *Cache) clear() {
	for i := range c.buf {
		c.buf[i] = nil
	}
	c.evictions += uint64(c.size)
	c.head, c.size, c.bytes = 0, 0, 0
}

// Len returns the number of cached frames.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size
}

// Cap returns the current capacity.
func (c *Cache) Cap() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.buf)
}

// Stats returns a snapshot of the cache.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Len:       c.size,
		Cap:       len(c.buf),
		Bytes:     c.bytes,
		Evictions: c.evictions,
	}
	if c.size > 0 {
		s.Oldest = c.at(0).PTS
		s.Newest = c.at(c.size - 1).PTS
	}
	return s
}

// Bounds returns the PTS of the oldest and newest cached frames. ok is false
// when the cache is empty.
func (c *Cache) Bounds() (oldest, newest time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.size == 0 {
		return 0, 0, false
	}
	return c.at(0).PTS, c.at(c.size - 1).PTS, true
}
