// Package compositor renders a resolved frame pair into one output image.
//
// Three layouts are supported: side-by-side (both frames scaled to a common
// height and concatenated), overlay (per-pixel absolute difference, shown
// as grayscale or as a heat map above a threshold) and wipe (A left of a
// movable divider, B right of it).
//
// Output size depends only on the sources' declared frame sizes and the
// mode, so a missing frame never changes the layout: its area is filled with
// a neutral panel carrying a "NO FRAME" label. Sides showing a stale or
// substituted frame get a badge. Compose does no I/O and never waits.
package compositor
