package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/adapter/metrics"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/app"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/coordination"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/economy"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// --- Mock implementations ---

type mockAppService struct {
	fetchSessionsFn   func(ctx context.Context, userID uuid.UUID, tab app.Tab) ([]domain.SessionView, error)
	createSessionFn   func(ctx context.Context, userID uuid.UUID, params domain.CreateSessionParams) (*domain.Session, error)
	joinSessionFn     func(ctx context.Context, userID, sessionID uuid.UUID) (*domain.JoinResult, error)
	leaveSessionFn    func(ctx context.Context, userID, sessionID uuid.UUID) (*domain.LeaveResult, error)
	completeSessionFn func(ctx context.Context, userID, sessionID uuid.UUID, durationMinutes int) (*app.Completion, error)
	previewSessionFn  func(ctx context.Context, userID uuid.UUID, sessionType domain.SessionType, durationMinutes int) (*economy.Preview, error)
}

func (m *mockAppService) FetchSessions(ctx context.Context, userID uuid.UUID, tab app.Tab) ([]domain.SessionView, error) {
	if m.fetchSessionsFn != nil {
		return m.fetchSessionsFn(ctx, userID, tab)
	}
	return []domain.SessionView{}, nil
}

func (m *mockAppService) CreateSession(ctx context.Context, userID uuid.UUID, params domain.CreateSessionParams) (*domain.Session, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, userID, params)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) JoinSession(ctx context.Context, userID, sessionID uuid.UUID) (*domain.JoinResult, error) {
	if m.joinSessionFn != nil {
		return m.joinSessionFn(ctx, userID, sessionID)
	}
	return &domain.JoinResult{Success: true, ParticipantCount: 1}, nil
}

func (m *mockAppService) LeaveSession(ctx context.Context, userID, sessionID uuid.UUID) (*domain.LeaveResult, error) {
	if m.leaveSessionFn != nil {
		return m.leaveSessionFn(ctx, userID, sessionID)
	}
	return &domain.LeaveResult{Success: true}, nil
}

func (m *mockAppService) CompleteSession(ctx context.Context, userID, sessionID uuid.UUID, durationMinutes int) (*app.Completion, error) {
	if m.completeSessionFn != nil {
		return m.completeSessionFn(ctx, userID, sessionID, durationMinutes)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) PreviewSession(ctx context.Context, userID uuid.UUID, sessionType domain.SessionType, durationMinutes int) (*economy.Preview, error) {
	if m.previewSessionFn != nil {
		return m.previewSessionFn(ctx, userID, sessionType, durationMinutes)
	}
	preview := economy.PreviewSession(100, 100, sessionType, durationMinutes)
	return &preview, nil
}

type feedAction struct {
	action    string
	sessionID uuid.UUID
}

type mockFeed struct {
	updates chan app.FeedState

	mu        sync.Mutex
	actions   []feedAction
	refreshes int
	closed    bool
	closeOnce sync.Once
}

func newMockFeed() *mockFeed {
	return &mockFeed{updates: make(chan app.FeedState, 4)}
}

func (f *mockFeed) Updates() <-chan app.FeedState { return f.updates }

func (f *mockFeed) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *mockFeed) Join(_ context.Context, sessionID uuid.UUID) (*domain.JoinResult, error) {
	f.record("join", sessionID)
	return &domain.JoinResult{Success: true, ParticipantCount: 2}, nil
}

func (f *mockFeed) Leave(_ context.Context, sessionID uuid.UUID) (*domain.LeaveResult, error) {
	f.record("leave", sessionID)
	return &domain.LeaveResult{Success: true}, nil
}

func (f *mockFeed) Close() {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.updates)
	})
}

func (f *mockFeed) record(action string, sessionID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, feedAction{action: action, sessionID: sessionID})
}

func (f *mockFeed) snapshot() ([]feedAction, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feedAction(nil), f.actions...), f.refreshes, f.closed
}

type mockStreams struct {
	mu           sync.Mutex
	registerErr  error
	registered   int
	unregistered int
}

func (m *mockStreams) Register(_ uuid.UUID, _ *websocket.Conn, _ <-chan app.FeedState, _ <-chan domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered++
	return nil
}

func (m *mockStreams) Unregister(_ uuid.UUID, conn *websocket.Conn) {
	m.mu.Lock()
	m.unregistered++
	m.mu.Unlock()
	_ = conn.Close()
}

type mockRealtime struct {
	status coordination.QueueStatus
	err    error
}

func (m *mockRealtime) QueueStatus() (coordination.QueueStatus, error) {
	return m.status, m.err
}

// --- Test helpers ---

func newTestServer(t *testing.T, svc appService, opts ...func(*Server)) *Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	cfg := &config.Config{
		AppEnv:       "development",
		AppURL:       "http://localhost:8080",
		APIRateLimit: 1000,
		APIRateBurst: 1000,
	}

	srv := &Server{
		echo:   echo.New(),
		config: cfg,
		app:    svc,
		openFeed: func(context.Context, uuid.UUID, app.Tab) (liveFeed, error) {
			return nil, errors.New("feeds not configured")
		},
		streams:       &mockStreams{},
		registry:      reg,
		httpMetrics:   metrics.NewHTTPMetrics(reg),
		streamMetrics: metrics.NewStreamMetrics(reg),
		upgrader:      newUpgrader(cfg.AppURL, true),
		startTime:     time.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

func withFeed(feed liveFeed) func(*Server) {
	return func(s *Server) {
		s.openFeed = func(context.Context, uuid.UUID, app.Tab) (liveFeed, error) {
			return feed, nil
		}
	}
}

func withStreams(streams streamRegistry) func(*Server) {
	return func(s *Server) {
		s.streams = streams
	}
}

func withRealtime(rt realtimeStatus) func(*Server) {
	return func(s *Server) {
		s.realtime = rt
	}
}

func withConfig(mutate func(*config.Config)) func(*Server) {
	return func(s *Server) {
		mutate(s.config)
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}

// doRequest sends a request through the full middleware stack as userID.
func doRequest(t *testing.T, srv *Server, method, target, body string, userID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID != uuid.Nil {
		req.Header.Set(UserIDHeader, userID.String())
	}

	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)
	return rec
}
