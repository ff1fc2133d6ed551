/*
Package workers sizes decoder thread pools from the CPUs actually available
to the process.

Go sets GOMAXPROCS from cgroup CPU limits, while runtime.NumCPU reports the
host count. Every comparison session runs two decoder subprocesses, and each
of those is told how many threads it may use. Sizing from GOMAXPROCS keeps a
container with a two-core limit from starting decoders that each try to use
every core on the node.

# Usage

	threads := workers.DecoderThreads(openSessions) // threads per decoder process

	numWorkers := workers.ForCPU(8) // 1 per CPU, capped at 8

# Override

DECODE_THREADS forces a fixed per-decoder thread count, still subject to the
caller's limit.
*/
package workers
