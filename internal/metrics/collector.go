package metrics

import (
	"runtime"
	"runtime/debug"
	"time"

	"video-compare/internal/logging"
)

// StatsProvider reports aggregate state of the open sessions.
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current statistics
type Stats struct {
	ActiveSessions  int
	PlayingSessions int
	CachedFrames    int
	CachedBytes     int64
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	collectRuntime()

	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	SessionsActive.Set(float64(stats.ActiveSessions))
	SessionsPlaying.Set(float64(stats.PlayingSessions))
	CacheFrames.Set(float64(stats.CachedFrames))
	CacheBytes.Set(float64(stats.CachedBytes))

	logging.Debug("Metrics collected: sessions=%d, playing=%d, cached frames=%d",
		stats.ActiveSessions, stats.PlayingSessions, stats.CachedFrames)
}

func collectRuntime() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	GoMemAllocBytes.Set(float64(ms.Alloc))
	GoMemSysBytes.Set(float64(ms.Sys))

	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < 1<<62 {
		GoMemLimit.Set(float64(limit))
	} else {
		GoMemLimit.Set(0)
	}
}
