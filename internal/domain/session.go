package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SessionType string

const (
	SessionTypeMatch      SessionType = "match"
	SessionTypeSocialPlay SessionType = "social_play"
	SessionTypeTraining   SessionType = "training"
	SessionTypeWellbeing  SessionType = "wellbeing"
)

// ParseSessionType accepts only the four known session types.
func ParseSessionType(s string) (SessionType, error) {
	switch t := SessionType(s); t {
	case SessionTypeMatch, SessionTypeSocialPlay, SessionTypeTraining, SessionTypeWellbeing:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSessionType, s)
	}
}

type SessionStatus string

const (
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

type ParticipantStatus string

const (
	ParticipantJoined ParticipantStatus = "joined"
	ParticipantLeft   ParticipantStatus = "left"
)

type Session struct {
	ID           uuid.UUID     `json:"id"`
	CreatorID    uuid.UUID     `json:"creator_id"`
	SessionType  SessionType   `json:"session_type"`
	Format       *string       `json:"format,omitempty"`
	MaxPlayers   int           `json:"max_players"`
	StakesAmount int           `json:"stakes_amount"`
	Location     *string       `json:"location,omitempty"`
	Notes        *string       `json:"notes,omitempty"`
	Status       SessionStatus `json:"status"`
	IsPrivate    bool          `json:"is_private"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

type Participant struct {
	ID         uuid.UUID         `json:"id"`
	SessionID  uuid.UUID         `json:"session_id"`
	UserID     uuid.UUID         `json:"user_id"`
	Status     ParticipantStatus `json:"status"`
	StakesPaid int               `json:"stakes_paid"`
	JoinedAt   time.Time         `json:"joined_at"`
	LeftAt     *time.Time        `json:"left_at,omitempty"`
}

// SessionRecord is a session with its eager-loaded relations, as storage returns it.
type SessionRecord struct {
	Session
	CreatorName  *string
	Participants []Participant
}

// SessionView is a session plus the fields derived for one viewer at fetch time.
// None of the derived fields are persisted.
type SessionView struct {
	Session
	ParticipantCount int    `json:"participant_count"`
	CreatorName      string `json:"creator_name"`
	UserJoined       bool   `json:"user_joined"`
}

// SessionFilter narrows a session listing. Zero values mean "no constraint".
type SessionFilter struct {
	Statuses   []SessionStatus
	PublicOnly bool
	// InvolvingUser keeps sessions created by the user or holding a joined
	// participant row for them.
	InvolvingUser *uuid.UUID
}

type CreateSessionParams struct {
	SessionType  SessionType `json:"session_type"`
	Format       *string     `json:"format,omitempty"`
	MaxPlayers   int         `json:"max_players"`
	StakesAmount int         `json:"stakes_amount"`
	Location     *string     `json:"location,omitempty"`
	Notes        *string     `json:"notes,omitempty"`
	IsPrivate    bool        `json:"is_private"`
}

// Validate checks the params a player may choose freely.
func (p CreateSessionParams) Validate() error {
	if _, err := ParseSessionType(string(p.SessionType)); err != nil {
		return err
	}
	if p.MaxPlayers < 1 || p.MaxPlayers > 64 {
		return fmt.Errorf("%w: max_players must be between 1 and 64", ErrInvalidSessionInput)
	}
	if p.StakesAmount < 0 {
		return fmt.Errorf("%w: stakes_amount must not be negative", ErrInvalidSessionInput)
	}
	return nil
}

// JoinResult is the reply of the atomic join procedure.
type JoinResult struct {
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
	ParticipantCount int    `json:"participant_count"`
	SessionReady     bool   `json:"session_ready"`
}

// LeaveResult is the reply of the atomic leave procedure. The stakes refund
// happens in the same transaction as the participant update.
type LeaveResult struct {
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
	RefundedTokens int    `json:"refunded_tokens"`
}

// SessionRewards is what completing a session applies to every joined participant.
type SessionRewards struct {
	HPCost int
	XPGain int
}

type SessionRepository interface {
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionRecord, error)
	GetSession(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	CreateSession(ctx context.Context, creatorID uuid.UUID, params CreateSessionParams) (*Session, error)

	// JoinSession debits stakes and inserts the participant row in one transaction.
	JoinSession(ctx context.Context, sessionID, userID uuid.UUID) (*JoinResult, error)
	// LeaveSession marks the participant row left and refunds stakes in one transaction.
	LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) (*LeaveResult, error)
	// CompleteSession marks the session completed and applies rewards to joined
	// participants, returning how many were rewarded.
	CompleteSession(ctx context.Context, sessionID uuid.UUID, rewards SessionRewards) (int, error)
}
