// Package memory configures the Go memory limit for containerized runs and
// watches heap usage so frame caches can shed memory before the process is
// killed.
//
// # Configuration
//
// Call [ConfigureFromEnv] first thing in main:
//
//   - GOMEMLIMIT: standard Go variable; when set it wins.
//   - MEMORY_LIMIT: container limit in bytes, usually injected through the
//     Kubernetes Downward API.
//   - MEMORY_RATIO: share of MEMORY_LIMIT given to the Go heap (default 0.85).
//     Decoder subprocesses live outside the Go heap, so deployments that run
//     many sessions should lower it, for example to 0.6.
//
// # Pressure
//
// A [Monitor] samples heap allocation every CheckInterval. Above the high
// watermark [Monitor.ShouldThrottle] reports true and decoders stop
// decoding ahead. Crossing the critical watermark invokes every registered
// [PressureFunc] once; sessions respond by shrinking their frame caches.
// session.NewManager registers that hook itself:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//	manager := session.NewManager(cfg, maxSessions, monitor)
package memory
