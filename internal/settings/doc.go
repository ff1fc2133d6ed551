// Package settings persists per-pair comparison settings in SQLite.
//
// A pair is identified by the refs of its two sources. When a pair is
// opened again its last offset, mode, overlay parameters, wipe division,
// speed and end policy are restored. The playback engine itself persists
// nothing; this store belongs to the control surface.
//
// The database uses WAL mode and creates its schema on open.
package settings
