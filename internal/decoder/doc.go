// Package decoder turns a media source into timestamped frames on demand.
//
// An [Adapter] owns one source. [Open] only probes the source; no goroutine
// or subprocess exists until [Adapter.Start]. After Start a single worker
// goroutine owns the decode stream and serves requests from a bounded
// mailbox, so a slow source never holds up another source's worker.
//
// Decoding is forward-only. A request for a frame a short distance ahead of
// the stream is served by decoding forward and discarding the frames in
// between; anything else reopens the stream at the target, which the backend
// satisfies by seeking to the nearest prior keyframe and decoding forward.
// Each reopen clears the frame cache, so the cache always holds one
// contiguous, PTS-ordered run.
//
// A frame that fails to decode is replaced by the last good frame
// (marked Substitute) and reported through Config.OnError. Only a source
// that never produced a frame fails with a fatal [DecodeError].
//
// Two backends are provided: [FFmpeg], which runs ffprobe/ffmpeg and reads
// raw RGBA frames from a pipe, and [Synthetic], a deterministic test-pattern
// generator addressed by "synthetic:" refs.
package decoder
