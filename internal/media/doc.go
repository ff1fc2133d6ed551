// Package media holds the values exchanged between decoder, cache,
// synchronizer and compositor: source metadata ([Info]), decoded frames
// ([Frame]) and the image helpers used to reshape them.
//
// A source's frame grid is derived from its nominal frame rate: frame k is
// presented at k/fps seconds. [Info.FrameIndex] and [Info.FramePTS] convert
// between the two and are exact inverses on the grid.
package media
