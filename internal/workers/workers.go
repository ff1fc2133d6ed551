package workers

import (
	"os"
	"runtime"
	"strconv"
)

// OverrideEnv names the environment variable that fixes the thread count.
const OverrideEnv = "DECODE_THREADS"

// DecodersPerSession is the number of decoder processes a comparison runs.
const DecodersPerSession = 2

// Count returns GOMAXPROCS scaled by multiplier, at least 1 and at most
// limit (0 means no limit). DECODE_THREADS overrides the computed value.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv(OverrideEnv); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			return clamp(count, limit)
		}
	}

	available := runtime.GOMAXPROCS(0)
	return clamp(int(float64(available)*multiplier), limit)
}

func clamp(n, limit int) int {
	if n < 1 {
		n = 1
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// DecoderThreads splits the available CPUs between the decoder processes of
// the given number of open sessions. The result is capped at 8 threads, past
// which software decoders of a single stream stop scaling.
func DecoderThreads(sessions int) int {
	if sessions < 1 {
		sessions = 1
	}
	return Count(1.0/float64(sessions*DecodersPerSession), 8)
}
