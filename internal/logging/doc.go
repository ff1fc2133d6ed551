// Package logging provides the leveled logger used across the comparison
// engine and its control surface.
//
// Levels, lowest first:
//   - DEBUG: per-frame and per-request detail (decode timings, cache misses)
//   - INFO: lifecycle messages (session opened, server started)
//   - WARN: recovered problems (stale frames, substituted frames, memory pressure)
//   - ERROR: failures surfaced to the caller
//   - FATAL: startup failures that terminate the process
//
// The level is read once from DEBUG or LOG_LEVEL. Long-lived components log
// through a [Logger] obtained from [Component] so every line carries the
// component name, for example "decoder[A]".
package logging
