// Package filesystem checks and opens comparison sources with retry on
// stale NFS file handles.
//
// Sources are frequently read from network mounts. A stat or open that fails
// with ESTALE is retried with capped exponential backoff; every other error is
// returned immediately. Metrics are recorded through an [Observer] installed
// at startup so that this package does not depend on the metrics package.
package filesystem
