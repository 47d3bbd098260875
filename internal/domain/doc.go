// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (session.go, player.go, realtime.go, notify.go, errors.go) hold shared
// types and the contracts adapters implement. No implementation code beyond small parsers.
package domain
