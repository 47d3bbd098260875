package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/app"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	apperrors "github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	streamReadLimit     = 4096
	streamActionTimeout = 10 * time.Second
	closeWriteTimeout   = time.Second
)

// Client actions accepted over a session stream.
const (
	actionRefresh = "refresh"
	actionJoin    = "join"
	actionLeave   = "leave"
)

type streamAction struct {
	Action    string    `json:"action"`
	SessionID uuid.UUID `json:"session_id"`
}

func (s *Server) handleRealtimeStatus(c echo.Context) error {
	if s.realtime == nil {
		return apperrors.ExternalError("realtime coordination is not configured", nil)
	}

	status, err := s.realtime.QueueStatus()
	if err != nil {
		return apperrors.ExternalError("realtime coordinator unavailable", err)
	}

	if err := c.JSON(http.StatusOK, status); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// handleSessionStream upgrades to a WebSocket that carries live snapshots of
// one tab plus the player's toasts. The client may send refresh, join and
// leave actions; their outcome arrives as the next snapshot and a toast.
func (s *Server) handleSessionStream(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	tab, err := app.ParseTab(c.QueryParam("tab"))
	if err != nil {
		return apperrors.ValidationError("invalid tab").WithField("tab", c.QueryParam("tab"))
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.streamMetrics.UpgradeFailures.Inc()
		slog.WarnContext(c.Request().Context(), "WebSocket upgrade failed", "error", err)
		return nil
	}
	conn.SetReadLimit(streamReadLimit)

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	feed, err := s.openFeed(ctx, userID, tab)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to open session feed", "tab", tab, "error", err)
		closeWithReason(conn, websocket.CloseInternalServerErr, "feed unavailable")
		return nil
	}
	defer feed.Close()

	var noteCh <-chan domain.Notification
	if notes := s.subscribeNotifications(ctx, userID); notes != nil {
		defer func() { _ = notes.Close() }()
		noteCh = notes.Notifications()
	}

	if err := s.streams.Register(userID, conn, feed.Updates(), noteCh); err != nil {
		slog.WarnContext(ctx, "Stream registration rejected", "error", err)
		closeWithReason(conn, websocket.ClosePolicyViolation, err.Error())
		return nil
	}
	defer s.streams.Unregister(userID, conn)

	s.streamMetrics.ActiveStreams.WithLabelValues(string(tab)).Inc()
	defer s.streamMetrics.ActiveStreams.WithLabelValues(string(tab)).Dec()

	slog.DebugContext(ctx, "Session stream opened", "tab", tab)
	s.readActions(ctx, conn, feed)
	slog.DebugContext(ctx, "Session stream closed", "tab", tab)
	return nil
}

// subscribeNotifications returns nil when toasts are unavailable; the stream
// still carries snapshots.
func (s *Server) subscribeNotifications(ctx context.Context, userID uuid.UUID) domain.NotificationStream {
	if s.notifications == nil {
		return nil
	}
	stream, err := s.notifications.SubscribeNotifications(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "Notification subscription failed", "error", err)
		return nil
	}
	return stream
}

// readActions runs until the client disconnects or stops answering pings.
// The streamer owns all writes to conn.
func (s *Server) readActions(ctx context.Context, conn *websocket.Conn, feed liveFeed) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "Session stream read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var action streamAction
		if err := json.Unmarshal(data, &action); err != nil {
			s.streamMetrics.ActionsTotal.WithLabelValues("unknown", "invalid").Inc()
			continue
		}
		s.runAction(ctx, feed, action)
	}
}

func (s *Server) runAction(ctx context.Context, feed liveFeed, action streamAction) {
	if action.Action == actionRefresh {
		feed.Refresh()
		s.streamMetrics.ActionsTotal.WithLabelValues(actionRefresh, "ok").Inc()
		return
	}

	if action.Action != actionJoin && action.Action != actionLeave {
		s.streamMetrics.ActionsTotal.WithLabelValues("unknown", "invalid").Inc()
		return
	}
	if action.SessionID == uuid.Nil {
		s.streamMetrics.ActionsTotal.WithLabelValues(action.Action, "invalid").Inc()
		return
	}

	actionCtx, cancel := context.WithTimeout(ctx, streamActionTimeout)
	defer cancel()

	var err error
	if action.Action == actionJoin {
		_, err = feed.Join(actionCtx, action.SessionID)
	} else {
		_, err = feed.Leave(actionCtx, action.SessionID)
	}

	result := "ok"
	if err != nil {
		result = "failed"
		slog.InfoContext(ctx, "Stream action failed", "action", action.Action, "session_id", action.SessionID, "error", err)
	}
	s.streamMetrics.ActionsTotal.WithLabelValues(action.Action, result).Inc()
}

func closeWithReason(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	_ = conn.Close()
}
