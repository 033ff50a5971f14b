// Package session holds the debuggee model: threads, stack frames,
// breakpoints and loaded scripts.
//
// State has a single writer, the engine's read goroutine, which applies
// confirmed responses and classified events. Any goroutine may read; every
// query returns copies, so callers never observe a half-applied update and
// never hold references into live state.
//
// Stack frames are value snapshots tagged with the stop epoch of the stop
// that produced them. Resuming a thread discards its cached frames; frames
// a caller already holds remain valid, inert values.
package session
