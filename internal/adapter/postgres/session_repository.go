package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SessionRepository = (*SessionRepo)(nil)

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `s.id, s.creator_id, s.session_type, s.format, s.max_players, s.stakes_amount,
	s.location, s.notes, s.status, s.is_private, s.created_at, s.updated_at`

func sessionFields(s *domain.Session) []any {
	return []any{
		&s.ID, &s.CreatorID, &s.SessionType, &s.Format, &s.MaxPlayers, &s.StakesAmount,
		&s.Location, &s.Notes, &s.Status, &s.IsPrivate, &s.CreatedAt, &s.UpdatedAt,
	}
}

// buildSessionWhere turns a filter into a WHERE clause with positional args.
func buildSessionWhere(filter domain.SessionFilter) (string, []any) {
	var (
		args  []any
		parts []string
	)

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		parts = append(parts, fmt.Sprintf("s.status = ANY($%d)", len(args)))
	}

	if filter.PublicOnly {
		parts = append(parts, "NOT s.is_private")
	}

	if filter.InvolvingUser != nil {
		args = append(args, *filter.InvolvingUser)
		n := len(args)
		parts = append(parts, fmt.Sprintf(`(s.creator_id = $%d OR EXISTS (
			SELECT 1 FROM session_participants sp
			WHERE sp.session_id = s.id AND sp.user_id = $%d AND sp.status = 'joined'))`, n, n))
	}

	if len(parts) == 0 {
		return "TRUE", args
	}
	return strings.Join(parts, " AND "), args
}

// ListSessions returns matching sessions newest first, each with its creator
// name and every participant row.
func (r *SessionRepo) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.SessionRecord, error) {
	where, args := buildSessionWhere(filter)
	query := fmt.Sprintf(`-- name: ListSessions
		SELECT %s, p.display_name
		FROM sessions s
		LEFT JOIN profiles p ON p.id = s.creator_id
		WHERE %s
		ORDER BY s.created_at DESC, s.id`, sessionColumns, where)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	records := make([]domain.SessionRecord, 0)
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var rec domain.SessionRecord
		if err := rows.Scan(append(sessionFields(&rec.Session), &rec.CreatorName)...); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		index[rec.ID] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(records) == 0 {
		return records, nil
	}

	ids := make([]uuid.UUID, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	participants, err := r.listParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range participants {
		i := index[p.SessionID]
		records[i].Participants = append(records[i].Participants, p)
	}
	return records, nil
}

func (r *SessionRepo) listParticipants(ctx context.Context, sessionIDs []uuid.UUID) ([]domain.Participant, error) {
	rows, err := r.pool.Query(ctx, `-- name: ListParticipants
		SELECT id, session_id, user_id, status, stakes_paid, joined_at, left_at
		FROM session_participants
		WHERE session_id = ANY($1)
		ORDER BY joined_at, id`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	participants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Participant, error) {
		var p domain.Participant
		err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.Status, &p.StakesPaid, &p.JoinedAt, &p.LeftAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan participants: %w", err)
	}
	return participants, nil
}

func (r *SessionRepo) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.Session, error) {
	var s domain.Session
	err := r.pool.QueryRow(ctx, `-- name: GetSession
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE s.id = $1`, sessionID).Scan(sessionFields(&s)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) CreateSession(ctx context.Context, creatorID uuid.UUID, params domain.CreateSessionParams) (*domain.Session, error) {
	var s domain.Session
	err := r.pool.QueryRow(ctx, `-- name: CreateSession
		INSERT INTO sessions AS s (creator_id, session_type, format, max_players, stakes_amount, location, notes, is_private)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+sessionColumns,
		creatorID,
		string(params.SessionType),
		params.Format,
		params.MaxPlayers,
		params.StakesAmount,
		params.Location,
		params.Notes,
		params.IsPrivate,
	).Scan(sessionFields(&s)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) JoinSession(ctx context.Context, sessionID, userID uuid.UUID) (*domain.JoinResult, error) {
	var res domain.JoinResult
	if err := r.pool.QueryRow(ctx, `-- name: JoinSession
		SELECT join_session($1, $2)`, sessionID, userID).Scan(&res); err != nil {
		return nil, fmt.Errorf("failed to join session: %w", err)
	}
	return &res, nil
}

func (r *SessionRepo) LeaveSession(ctx context.Context, sessionID, userID uuid.UUID) (*domain.LeaveResult, error) {
	var res domain.LeaveResult
	if err := r.pool.QueryRow(ctx, `-- name: LeaveSession
		SELECT leave_session($1, $2)`, sessionID, userID).Scan(&res); err != nil {
		return nil, fmt.Errorf("failed to leave session: %w", err)
	}
	return &res, nil
}

// CompleteSession closes the session and applies HP and XP to its joined
// participants in one transaction. HP stays within [0, max_hp].
func (r *SessionRepo) CompleteSession(ctx context.Context, sessionID uuid.UUID, rewards domain.SessionRewards) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status domain.SessionStatus
	err = tx.QueryRow(ctx, `-- name: LockSession
		SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock session: %w", err)
	}
	if status != domain.SessionStatusWaiting && status != domain.SessionStatusActive {
		return 0, fmt.Errorf("%w: status is %s", domain.ErrSessionNotOpen, status)
	}

	if _, err := tx.Exec(ctx, `-- name: MarkSessionCompleted
		UPDATE sessions SET status = 'completed', updated_at = NOW() WHERE id = $1`, sessionID); err != nil {
		return 0, fmt.Errorf("failed to mark session completed: %w", err)
	}

	tag, err := tx.Exec(ctx, `-- name: ApplySessionRewards
		UPDATE profiles p
		SET hp = GREATEST(0, LEAST(p.max_hp, p.hp - $2)),
		    xp = p.xp + $3,
		    updated_at = NOW()
		FROM session_participants sp
		WHERE sp.session_id = $1 AND sp.user_id = p.id AND sp.status = 'joined'`,
		sessionID, rewards.HPCost, rewards.XPGain)
	if err != nil {
		return 0, fmt.Errorf("failed to apply session rewards: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
