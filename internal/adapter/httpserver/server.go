package httpserver

import (
	"context"
	"fmt"
	"log/slog"
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

type appService interface {
	FetchSessions(ctx context.Context, userID uuid.UUID, tab app.Tab) ([]domain.SessionView, error)
	CreateSession(ctx context.Context, userID uuid.UUID, params domain.CreateSessionParams) (*domain.Session, error)
	JoinSession(ctx context.Context, userID, sessionID uuid.UUID) (*domain.JoinResult, error)
	LeaveSession(ctx context.Context, userID, sessionID uuid.UUID) (*domain.LeaveResult, error)
	CompleteSession(ctx context.Context, userID, sessionID uuid.UUID, durationMinutes int) (*app.Completion, error)
	PreviewSession(ctx context.Context, userID uuid.UUID, sessionType domain.SessionType, durationMinutes int) (*economy.Preview, error)
}

// liveFeed is the part of *app.Feed a stream connection drives.
type liveFeed interface {
	Updates() <-chan app.FeedState
	Refresh()
	Join(ctx context.Context, sessionID uuid.UUID) (*domain.JoinResult, error)
	Leave(ctx context.Context, sessionID uuid.UUID) (*domain.LeaveResult, error)
	Close()
}

type feedOpener func(ctx context.Context, userID uuid.UUID, tab app.Tab) (liveFeed, error)

// streamRegistry is satisfied by *broadcast.Streamer.
type streamRegistry interface {
	Register(userID uuid.UUID, conn *websocket.Conn, updates <-chan app.FeedState, notes <-chan domain.Notification) error
	Unregister(userID uuid.UUID, conn *websocket.Conn)
}

// realtimeStatus is satisfied by *coordination.Coordinator.
type realtimeStatus interface {
	QueueStatus() (coordination.QueueStatus, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app           appService
	openFeed      feedOpener
	streams       streamRegistry
	notifications domain.NotificationSubscriber
	realtime      realtimeStatus

	registry      *prometheus.Registry
	httpMetrics   *metrics.HTTPMetrics
	streamMetrics *metrics.StreamMetrics
	upgrader      websocket.Upgrader

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, svc *app.Service, streams streamRegistry, notifications domain.NotificationSubscriber, realtime realtimeStatus, reg *prometheus.Registry, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:          e,
		config:        cfg,
		app:           svc,
		openFeed:      serviceFeedOpener(svc),
		streams:       streams,
		notifications: notifications,
		realtime:      realtime,
		registry:      reg,
		httpMetrics:   metrics.NewHTTPMetrics(reg),
		streamMetrics: metrics.NewStreamMetrics(reg),
		upgrader:      newUpgrader(cfg.AppURL, !cfg.IsProduction()),
		healthChecks:  healthChecks,
		startTime:     time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func serviceFeedOpener(svc *app.Service) feedOpener {
	return func(ctx context.Context, userID uuid.UUID, tab app.Tab) (liveFeed, error) {
		feed, err := svc.OpenFeed(ctx, userID, tab)
		if err != nil {
			return nil, err
		}
		return feed, nil
	}
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
