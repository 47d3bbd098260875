// Package economy turns a session's type and duration into HP and XP effects.
//
// Everything here is pure and total: unknown session types fall back to default
// parameters and negative durations are treated as zero. HP costs are computed in
// integer tenths so that per-tier rounding is exact (half rounds up).
package economy
