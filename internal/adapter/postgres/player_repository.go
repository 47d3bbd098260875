package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PlayerRepo struct {
	pool *pgxpool.Pool
}

var _ domain.PlayerRepository = (*PlayerRepo)(nil)

func NewPlayerRepo(pool *pgxpool.Pool) *PlayerRepo {
	return &PlayerRepo{pool: pool}
}

func (r *PlayerRepo) GetPlayer(ctx context.Context, userID uuid.UUID) (*domain.Player, error) {
	var p domain.Player
	err := r.pool.QueryRow(ctx, `-- name: GetPlayer
		SELECT id, display_name, hp, max_hp, xp, level, tokens, created_at, updated_at
		FROM profiles
		WHERE id = $1`, userID).Scan(
		&p.ID, &p.DisplayName, &p.HP, &p.MaxHP, &p.XP, &p.Level, &p.Tokens, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPlayerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get player: %w", err)
	}
	return &p, nil
}
