// Package app provides the application service layer.
//
// Orchestrates use cases: per-tab session fetching with retry, join/leave with
// user notifications, session creation and completion, economy previews and live
// session feeds. Depends on domain interfaces, not concrete implementations.
package app
