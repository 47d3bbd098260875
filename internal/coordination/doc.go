// Package coordination multiplexes realtime change subscriptions.
//
// The Coordinator deduplicates interest by (table, channel prefix), bounds the
// number of open channels, admits queued requests by priority and fans each
// channel's events out to its subscribers in priority order. It uses the same
// actor shape as the feed streamer: one goroutine owns all state, callers send
// commands over a channel.
package coordination
