package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TableSessions            = "sessions"
	TableSessionParticipants = "session_participants"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent announces that a row in Table changed.
type ChangeEvent struct {
	Table      string     `json:"table"`
	Type       ChangeType `json:"type"`
	RecordID   uuid.UUID  `json:"record_id"`
	SessionID  uuid.UUID  `json:"session_id"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// ChangeSubscription is one live realtime channel. Events is closed once the
// subscription ends.
type ChangeSubscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// ChangeFeed opens realtime channels. Subscribe returns only after the backend
// acknowledged the subscription.
type ChangeFeed interface {
	Subscribe(ctx context.Context, channel, table string) (ChangeSubscription, error)
}

// ChangePublisher announces row changes to every subscriber of the table.
type ChangePublisher interface {
	PublishChange(ctx context.Context, event ChangeEvent) error
}
