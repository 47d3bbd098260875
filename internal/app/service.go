package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/coordination"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/economy"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/metrics"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/retry"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

const (
	publishTimeout = 2 * time.Second
	// One retry after publishRetryBase<<1 covers a Redis failover blip.
	publishRetries   = 1
	publishRetryBase = 100 * time.Millisecond
)

// Subscriber registers change interest. Satisfied by *coordination.Coordinator.
type Subscriber interface {
	AddSubscriptionRequest(req coordination.Request) (string, error)
	RemoveSubscriptionRequest(id string)
}

type FetchPolicy struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// Service is the application layer. It is the only component that talks to
// storage, notifications and the change publisher together.
type Service struct {
	sessions   domain.SessionRepository
	players    domain.PlayerRepository
	notifier   domain.Notifier
	publisher  domain.ChangePublisher
	subscriber Subscriber
	clock      clockwork.Clock
	fetch      FetchPolicy
	fetchGroup singleflight.Group
}

func NewService(sessions domain.SessionRepository, players domain.PlayerRepository, notifier domain.Notifier, publisher domain.ChangePublisher, subscriber Subscriber, clock clockwork.Clock, fetch FetchPolicy) *Service {
	return &Service{
		sessions:   sessions,
		players:    players,
		notifier:   notifier,
		publisher:  publisher,
		subscriber: subscriber,
		clock:      clock,
		fetch:      fetch,
	}
}

// FetchSessions lists the sessions of a tab as seen by userID. Transient
// failures are retried silently with exponential backoff; once retries run
// out the user gets exactly one error notification.
func (s *Service) FetchSessions(ctx context.Context, userID uuid.UUID, tab Tab) ([]domain.SessionView, error) {
	key := userID.String() + ":" + string(tab)
	v, err, _ := s.fetchGroup.Do(key, func() (any, error) {
		return s.fetchWithRetry(ctx, userID, tab)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.SessionView), nil
}

func (s *Service) fetchWithRetry(ctx context.Context, userID uuid.UUID, tab Tab) ([]domain.SessionView, error) {
	start := s.clock.Now()
	defer func() {
		metrics.SessionFetchDuration.WithLabelValues(string(tab)).Observe(s.clock.Since(start).Seconds())
	}()

	policy := retry.Policy{
		MaxRetries: s.fetch.RetryAttempts,
		BaseDelay:  s.fetch.RetryDelay,
		Clock:      s.clock,
		OnRetry: func(n int, err error, delay time.Duration) {
			metrics.SessionFetchRetries.WithLabelValues(string(tab)).Inc()
			slog.DebugContext(ctx, "Session fetch failed, retrying", "tab", tab, "retry", n, "delay", delay, "error", err)
		},
	}

	filter := tab.Filter(userID)
	records, err := retry.Do(ctx, policy, classifyFetchError, func() ([]domain.SessionRecord, error) {
		return s.sessions.ListSessions(ctx, filter)
	})
	if err != nil {
		if ctx.Err() != nil {
			metrics.SessionFetchTotal.WithLabelValues(string(tab), "cancelled").Inc()
			return nil, err
		}
		metrics.SessionFetchTotal.WithLabelValues(string(tab), "error").Inc()
		slog.ErrorContext(ctx, "Session fetch failed", "tab", tab, "error", err)
		s.notify(ctx, userID, domain.NotifyError, "Could not load sessions", "Failed to load sessions. Please try again later.")
		return nil, fmt.Errorf("fetch %s sessions: %w", tab, err)
	}

	views := make([]domain.SessionView, 0, len(records))
	for _, rec := range records {
		views = append(views, toView(rec, userID))
	}
	metrics.SessionFetchTotal.WithLabelValues(string(tab), "success").Inc()
	return views, nil
}

func classifyFetchError(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.Retry
}

// insufficientTokensMarker is how the join procedure reports a token shortage.
const insufficientTokensMarker = "insufficient tokens"

// JoinSession joins userID to a session through the atomic join procedure.
// Rejections are never retried; token shortages get their own message.
func (s *Service) JoinSession(ctx context.Context, userID, sessionID uuid.UUID) (*domain.JoinResult, error) {
	res, err := s.sessions.JoinSession(ctx, sessionID, userID)
	if err != nil {
		metrics.SessionJoinTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "Join session failed", "session_id", sessionID, "error", err)
		s.notify(ctx, userID, domain.NotifyError, "Failed to join session", "Something went wrong while joining. Please try again.")
		return nil, fmt.Errorf("join session: %w", err)
	}

	if !res.Success {
		if strings.Contains(strings.ToLower(res.Error), insufficientTokensMarker) {
			metrics.SessionJoinTotal.WithLabelValues("insufficient_tokens").Inc()
			s.notify(ctx, userID, domain.NotifyError, "Insufficient tokens", "You don't have enough tokens to cover this session's stakes.")
			return res, fmt.Errorf("%w: %s", domain.ErrInsufficientTokens, res.Error)
		}
		metrics.SessionJoinTotal.WithLabelValues("rejected").Inc()
		s.notify(ctx, userID, domain.NotifyError, "Failed to join session", "Failed to join session. Please try again.")
		return res, fmt.Errorf("%w: %s", domain.ErrJoinRejected, res.Error)
	}

	metrics.SessionJoinTotal.WithLabelValues("joined").Inc()
	msg := fmt.Sprintf("You joined the session (%d players).", res.ParticipantCount)
	if res.SessionReady {
		msg = "You joined the session. It is full and ready to start!"
	}
	s.notify(ctx, userID, domain.NotifySuccess, "Joined session", msg)
	s.publish(ctx, domain.TableSessionParticipants, domain.ChangeInsert, sessionID, sessionID)
	return res, nil
}

// LeaveSession marks the user's participation left. Any stakes refund happens
// in the same transaction and is reported as its own notification.
func (s *Service) LeaveSession(ctx context.Context, userID, sessionID uuid.UUID) (*domain.LeaveResult, error) {
	res, err := s.sessions.LeaveSession(ctx, sessionID, userID)
	if err != nil {
		metrics.SessionLeaveTotal.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "Leave session failed", "session_id", sessionID, "error", err)
		s.notify(ctx, userID, domain.NotifyError, "Failed to leave session", "Something went wrong while leaving. Please try again.")
		return nil, fmt.Errorf("leave session: %w", err)
	}

	if !res.Success {
		metrics.SessionLeaveTotal.WithLabelValues("rejected").Inc()
		s.notify(ctx, userID, domain.NotifyError, "Failed to leave session", res.Error)
		return res, fmt.Errorf("%w: %s", domain.ErrLeaveRejected, res.Error)
	}

	metrics.SessionLeaveTotal.WithLabelValues("left").Inc()
	s.notify(ctx, userID, domain.NotifySuccess, "Left session", "You have left the session.")
	if res.RefundedTokens > 0 {
		metrics.TokensRefundedTotal.Add(float64(res.RefundedTokens))
		s.notify(ctx, userID, domain.NotifySuccess, "Stakes refunded", fmt.Sprintf("%d tokens were returned to your balance.", res.RefundedTokens))
	}
	s.publish(ctx, domain.TableSessionParticipants, domain.ChangeUpdate, sessionID, sessionID)
	return res, nil
}

func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, params domain.CreateSessionParams) (*domain.Session, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, userID, params)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	slog.InfoContext(ctx, "Session created", "session_id", session.ID, "session_type", session.SessionType)
	s.notify(ctx, userID, domain.NotifySuccess, "Session created", "Your session is open for players.")
	s.publish(ctx, domain.TableSessions, domain.ChangeInsert, session.ID, session.ID)
	return session, nil
}

// Completion reports what completing a session applied.
type Completion struct {
	SessionID            uuid.UUID               `json:"session_id"`
	Calculation          economy.CostCalculation `json:"calculation"`
	ParticipantsRewarded int                     `json:"participants_rewarded"`
}

// CompleteSession closes a session and applies its HP/XP effects to every
// joined participant. Only the creator may complete a session.
func (s *Service) CompleteSession(ctx context.Context, userID, sessionID uuid.UUID, durationMinutes int) (*Completion, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CreatorID != userID {
		return nil, domain.ErrNotSessionCreator
	}
	if session.Status != domain.SessionStatusWaiting && session.Status != domain.SessionStatusActive {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrSessionNotOpen, session.Status)
	}

	calc := economy.CalculateSessionCosts(session.SessionType, durationMinutes)
	rewarded, err := s.sessions.CompleteSession(ctx, sessionID, domain.SessionRewards{HPCost: calc.HPCost, XPGain: calc.XPGain})
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}

	metrics.SessionsCompletedTotal.WithLabelValues(string(session.SessionType)).Inc()
	slog.InfoContext(ctx, "Session completed",
		"session_id", sessionID,
		"hp_cost", calc.HPCost,
		"xp_gain", calc.XPGain,
		"participants", rewarded,
	)
	s.notify(ctx, userID, domain.NotifySuccess, "Session completed", fmt.Sprintf("%d players earned %d XP.", rewarded, calc.XPGain))
	s.publish(ctx, domain.TableSessions, domain.ChangeUpdate, sessionID, sessionID)

	return &Completion{SessionID: sessionID, Calculation: calc, ParticipantsRewarded: rewarded}, nil
}

// PreviewSession evaluates a planned session against the player's current HP.
func (s *Service) PreviewSession(ctx context.Context, userID uuid.UUID, sessionType domain.SessionType, durationMinutes int) (*economy.Preview, error) {
	if _, err := domain.ParseSessionType(string(sessionType)); err != nil {
		return nil, err
	}

	player, err := s.players.GetPlayer(ctx, userID)
	if err != nil {
		return nil, err
	}

	preview := economy.PreviewSession(player.HP, player.MaxHP, sessionType, durationMinutes)
	return &preview, nil
}

func (s *Service) notify(ctx context.Context, userID uuid.UUID, level domain.NotificationLevel, title, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, domain.Notification{UserID: userID, Level: level, Title: title, Message: message})
}

// publish announces a change so live feeds refresh. Failures are logged only:
// the write already committed.
func (s *Service) publish(ctx context.Context, table string, typ domain.ChangeType, recordID, sessionID uuid.UUID) {
	if s.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	event := domain.ChangeEvent{
		Table:      table,
		Type:       typ,
		RecordID:   recordID,
		SessionID:  sessionID,
		OccurredAt: s.clock.Now(),
	}
	policy := retry.Policy{MaxRetries: publishRetries, BaseDelay: publishRetryBase, Clock: s.clock}
	err := retry.DoVoid(pubCtx, policy, classifyFetchError, func() error {
		return s.publisher.PublishChange(pubCtx, event)
	})
	if err != nil {
		metrics.ChangePublishFailuresTotal.WithLabelValues(table).Inc()
		slog.WarnContext(ctx, "Failed to publish change event", "table", table, "session_id", sessionID, "error", err)
	}
}
