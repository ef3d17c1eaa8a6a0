// Package session owns frame reception for one upload connection at a time.
//
// Ownership boundary:
// - admission (single connection, buffer capacity)
// - incremental header and payload assembly
// - idle tick eviction
// - handing complete frames to playback
//
// A Session is not safe for concurrent use; the server loop owns it.
package session
