package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/coordination"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/metrics"
	"github.com/google/uuid"
)

// Subscription priorities within a feed's channels. The sessions refresh is
// dispatched before the participant-derived one.
const (
	sessionsPriority     = 2
	participantsPriority = 1
)

type FeedStatus string

const (
	FeedIdle    FeedStatus = "idle"
	FeedLoading FeedStatus = "loading"
	FeedSuccess FeedStatus = "success"
	FeedError   FeedStatus = "error"
)

// FeedState is one observable snapshot of a live session list.
type FeedState struct {
	Tab       Tab                  `json:"tab"`
	Status    FeedStatus           `json:"status"`
	Sessions  []domain.SessionView `json:"sessions"`
	Error     string               `json:"error,omitempty"`
	LiveError string               `json:"live_error,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Feed keeps one user's session list for one tab live. Row changes delivered
// by the coordinator trigger a refetch; the newest issued fetch always wins.
type Feed struct {
	svc    *Service
	userID uuid.UUID
	tab    Tab

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	state   FeedState
	issued  uint64
	applied uint64
	subIDs  []string
	updates chan FeedState

	closeOnce sync.Once
}

// OpenFeed registers the feed's change interests and starts the first fetch.
// The feed lives until Close is called or ctx is cancelled.
func (s *Service) OpenFeed(ctx context.Context, userID uuid.UUID, tab Tab) (*Feed, error) {
	if s.subscriber == nil {
		return nil, errors.New("live feeds are not configured")
	}

	feedCtx, cancel := context.WithCancel(ctx)
	f := &Feed{
		svc:     s,
		userID:  userID,
		tab:     tab,
		ctx:     feedCtx,
		cancel:  cancel,
		state:   FeedState{Tab: tab, Status: FeedIdle, Sessions: []domain.SessionView{}},
		updates: make(chan FeedState, 1),
	}

	metrics.FeedsActive.WithLabelValues(string(tab)).Inc()

	prefix := "feed-" + string(tab)
	requests := []coordination.Request{
		{Table: domain.TableSessions, ChannelPrefix: prefix, Priority: sessionsPriority},
		{Table: domain.TableSessionParticipants, ChannelPrefix: prefix, Priority: participantsPriority},
	}
	for _, req := range requests {
		req.OnChange = f.onChange
		req.OnError = f.onLiveError
		id, err := s.subscriber.AddSubscriptionRequest(req)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("register %s interest: %w", req.Table, err)
		}
		f.mu.Lock()
		f.subIDs = append(f.subIDs, id)
		f.mu.Unlock()
	}

	go func() {
		<-feedCtx.Done()
		f.Close()
	}()

	f.Refresh()
	return f, nil
}

// Updates delivers state snapshots. Only the latest undelivered snapshot is
// kept. The channel is closed by Close.
func (f *Feed) Updates() <-chan FeedState {
	return f.updates
}

func (f *Feed) State() FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Refresh starts a fetch. It never joins a fetch already in flight, since that
// one may predate the change being reacted to. Overlapping fetches are allowed;
// results older than the newest applied one are dropped.
func (f *Feed) Refresh() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.issued++
	seq := f.issued
	f.state.Status = FeedLoading
	f.emitLocked()
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		views, err := f.svc.fetchWithRetry(f.ctx, f.userID, f.tab)
		f.apply(seq, views, err)
	}()
}

// Join joins a session and resynchronizes from storage on success.
func (f *Feed) Join(ctx context.Context, sessionID uuid.UUID) (*domain.JoinResult, error) {
	res, err := f.svc.JoinSession(ctx, f.userID, sessionID)
	if err == nil {
		f.Refresh()
	}
	return res, err
}

// Leave leaves a session and resynchronizes from storage on success.
func (f *Feed) Leave(ctx context.Context, sessionID uuid.UUID) (*domain.LeaveResult, error) {
	res, err := f.svc.LeaveSession(ctx, f.userID, sessionID)
	if err == nil {
		f.Refresh()
	}
	return res, err
}

// Close deregisters the feed's interests, cancels pending fetches and retry
// timers, and closes Updates. Safe to call more than once.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		ids := f.subIDs
		f.subIDs = nil
		f.mu.Unlock()

		for _, id := range ids {
			f.svc.subscriber.RemoveSubscriptionRequest(id)
		}
		f.cancel()
		f.wg.Wait()

		metrics.FeedsActive.WithLabelValues(string(f.tab)).Dec()
		close(f.updates)
	})
}

func (f *Feed) onChange(ev domain.ChangeEvent) {
	slog.DebugContext(f.ctx, "Feed change received", "tab", f.tab, "table", ev.Table, "type", ev.Type)
	f.Refresh()
}

func (f *Feed) onLiveError(err error) {
	slog.WarnContext(f.ctx, "Feed live updates unavailable", "tab", f.tab, "error", err)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.state.LiveError = err.Error()
	f.emitLocked()
}

func (f *Feed) apply(seq uint64, views []domain.SessionView, err error) {
	if f.ctx.Err() != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || seq < f.applied {
		return
	}
	f.applied = seq

	// A newer fetch is still running; keep showing loading.
	status := FeedSuccess
	if err != nil {
		status = FeedError
	}
	if seq < f.issued {
		status = FeedLoading
	}

	if err != nil {
		f.state.Error = err.Error()
	} else {
		f.state.Error = ""
		f.state.Sessions = views
	}
	f.state.Status = status
	f.state.UpdatedAt = f.svc.clock.Now()
	f.emitLocked()
}

// emitLocked replaces any undelivered snapshot with the current one.
func (f *Feed) emitLocked() {
	select {
	case <-f.updates:
	default:
	}
	f.updates <- f.state
}
