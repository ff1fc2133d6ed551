package memory

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"video-compare/internal/logging"
	"video-compare/internal/metrics"
)

// Config holds memory management configuration
type Config struct {
	// MemoryLimitBytes is the soft memory limit (0 = use GOMEMLIMIT or no limit)
	MemoryLimitBytes int64

	// HighWaterMark is the usage ratio at which decode-ahead is throttled
	HighWaterMark float64

	// CriticalWaterMark is the usage ratio at which caches are shrunk
	CriticalWaterMark float64

	CheckInterval time.Duration
}

// DefaultConfig returns sensible defaults for memory management
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     2 * time.Second,
	}
}

// PressureFunc is called with the usage ratio when memory turns critical.
type PressureFunc func(usage float64)

// Monitor tracks heap usage against the memory limit.
type Monitor struct {
	config    Config
	limit     int64
	readAlloc func() uint64

	stopOnce sync.Once
	stopChan chan struct{}

	mu        sync.RWMutex
	current   uint64
	critical  bool
	listeners []PressureFunc
}

// NewMonitor creates a new memory monitor
func NewMonitor(config Config) *Monitor {
	limit := config.MemoryLimitBytes
	if limit == 0 {
		if goMemLimit := debug.SetMemoryLimit(-1); goMemLimit > 0 && goMemLimit < 1<<62 {
			limit = goMemLimit
			logging.Info("Memory monitor using GOMEMLIMIT: %s", FormatBytes(limit))
		}
	}
	if limit == 0 {
		logging.Warn("Memory monitor: no memory limit configured, cache pressure handling disabled")
	}

	return &Monitor{
		config:    config,
		limit:     limit,
		readAlloc: heapAlloc,
		stopChan:  make(chan struct{}),
	}
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// OnPressure registers fn to run each time usage crosses the critical
// watermark. Callbacks run on the monitor goroutine and must not block.
func (m *Monitor) OnPressure(fn PressureFunc) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Start begins monitoring memory usage
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.monitorLoop()
}

// Stop stops the memory monitor. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Monitor) monitorLoop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-m.stopChan:
			return
		}
	}
}

// Check samples heap usage once and fires pressure callbacks on a rising
// edge across the critical watermark.
func (m *Monitor) Check() {
	alloc := m.readAlloc()

	m.mu.Lock()
	m.current = alloc
	if m.limit == 0 {
		m.mu.Unlock()
		return
	}

	usage := float64(alloc) / float64(m.limit)
	metrics.MemoryUsageRatio.Set(usage)

	var fire []PressureFunc
	switch {
	case usage >= m.config.CriticalWaterMark && !m.critical:
		m.critical = true
		fire = append(fire, m.listeners...)
		metrics.MemoryPressure.Set(1)
		metrics.MemoryPressureEvents.Inc()
		logging.Warn("Memory critical (%.1f%% of limit), shrinking frame caches", usage*100)
	case usage < m.config.HighWaterMark && m.critical:
		m.critical = false
		metrics.MemoryPressure.Set(0)
		logging.Info("Memory recovered (%.1f%% of limit)", usage*100)
	}
	m.mu.Unlock()

	for _, fn := range fire {
		fn(usage)
	}
	if len(fire) > 0 {
		go runtime.GC()
	}
}

// ShouldThrottle returns true if memory usage is above the high water mark
func (m *Monitor) ShouldThrottle() bool {
	if m == nil || m.limit == 0 {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return float64(m.current) >= float64(m.limit)*m.config.HighWaterMark
}

// IsCritical reports whether usage is currently above the critical watermark.
func (m *Monitor) IsCritical() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.critical
}

// GetUsage returns current memory usage as a fraction of the limit, or 0
// when no limit is configured.
func (m *Monitor) GetUsage() float64 {
	if m.limit == 0 {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return float64(m.current) / float64(m.limit)
}
