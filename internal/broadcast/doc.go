// Package broadcast streams live session feeds to WebSocket clients using the actor pattern.
//
// The Streamer owns every connection through a single goroutine and command channel (no mutexes).
// Each client gets a forwarding goroutine that pushes feed snapshots and a write goroutine that
// handles pings, idle detection and slow clients.
package broadcast
