package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Player is a profile row: display name plus the gamified resources.
type Player struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	HP          int       `json:"hp"`
	MaxHP       int       `json:"max_hp"`
	XP          int       `json:"xp"`
	Level       int       `json:"level"`
	Tokens      int       `json:"tokens"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PlayerRepository interface {
	GetPlayer(ctx context.Context, userID uuid.UUID) (*Player, error)
}
