package httpserver

import (
	"fmt"
	"net/http"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/app"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	apperrors "github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerSessionRoutes(g *echo.Group) {
	g.GET("/sessions", s.handleListSessions)
	g.POST("/sessions", s.handleCreateSession)
	g.POST("/sessions/:id/join", s.handleJoinSession)
	g.POST("/sessions/:id/leave", s.handleLeaveSession)
	g.POST("/sessions/:id/complete", s.handleCompleteSession)
}

type sessionListResponse struct {
	Tab      app.Tab              `json:"tab"`
	Sessions []domain.SessionView `json:"sessions"`
}

type completeSessionRequest struct {
	DurationMinutes int `json:"duration_minutes"`
}

func (s *Server) handleListSessions(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	tab, err := app.ParseTab(c.QueryParam("tab"))
	if err != nil {
		return apperrors.ValidationError("invalid tab").WithField("tab", c.QueryParam("tab"))
	}

	views, err := s.app.FetchSessions(c.Request().Context(), userID, tab)
	if err != nil {
		return apperrors.ExternalError("failed to load sessions", err).WithField("tab", string(tab))
	}

	if err := c.JSON(http.StatusOK, sessionListResponse{Tab: tab, Sessions: views}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCreateSession(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	var params domain.CreateSessionParams
	if err := c.Bind(&params); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	session, err := s.app.CreateSession(c.Request().Context(), userID, params)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, session); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleJoinSession(c echo.Context) error {
	userID, sessionID, err := sessionTarget(c)
	if err != nil {
		return err
	}

	res, err := s.app.JoinSession(c.Request().Context(), userID, sessionID)
	if err != nil {
		return withSessionID(err, sessionID)
	}

	if err := c.JSON(http.StatusOK, res); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleLeaveSession(c echo.Context) error {
	userID, sessionID, err := sessionTarget(c)
	if err != nil {
		return err
	}

	res, err := s.app.LeaveSession(c.Request().Context(), userID, sessionID)
	if err != nil {
		return withSessionID(err, sessionID)
	}

	if err := c.JSON(http.StatusOK, res); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCompleteSession(c echo.Context) error {
	userID, sessionID, err := sessionTarget(c)
	if err != nil {
		return err
	}

	var req completeSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	completion, err := s.app.CompleteSession(c.Request().Context(), userID, sessionID, req.DurationMinutes)
	if err != nil {
		return withSessionID(err, sessionID)
	}

	if err := c.JSON(http.StatusOK, completion); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func sessionTarget(c echo.Context) (uuid.UUID, uuid.UUID, error) {
	userID, err := userIDFrom(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	raw := c.Param("id")
	sessionID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, uuid.Nil, apperrors.ValidationError("invalid session ID format").WithField("session_id", raw)
	}
	return userID, sessionID, nil
}

// withSessionID maps err to its structured form and tags it with the session.
func withSessionID(err error, sessionID uuid.UUID) error {
	return apperrors.AsStructuredError(mapDomainError(err)).WithField("session_id", sessionID.String())
}
