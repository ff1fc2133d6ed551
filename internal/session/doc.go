// Package session ties two decoder adapters, a synchronizer, a compositor and
// a playback controller into one comparison session.
//
// OpenSources probes both sources before any decode worker starts, so a
// failed open leaves nothing running. Outputs and events of a session are
// fanned out to any number of subscribers, each of which sees the latest
// output only. A Manager owns the open sessions, enforces the session limit
// and forwards memory pressure to their frame caches.
package session
