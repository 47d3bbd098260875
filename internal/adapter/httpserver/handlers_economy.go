package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/economy"
	apperrors "github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

// Longest session the calculator endpoints accept (one day).
const maxDurationMinutes = 24 * 60

func (s *Server) registerEconomyRoutes(g *echo.Group) {
	g.GET("/economy/calculate", s.handleCalculateCosts)
	g.GET("/economy/preview", s.handlePreviewSession)
}

type calculationResponse struct {
	Calculation economy.CostCalculation `json:"calculation"`
	Warnings    []string                `json:"warnings"`
	Recovery    *economy.RecoveryAdvice `json:"recovery,omitempty"`
}

func (s *Server) handleCalculateCosts(c echo.Context) error {
	sessionType, duration, err := economyQuery(c)
	if err != nil {
		return err
	}

	calc := economy.CalculateSessionCosts(sessionType, duration)
	resp := calculationResponse{
		Calculation: calc,
		Warnings:    economy.SmartWarnings(calc.DurationMinutes, calc),
		Recovery:    economy.GetRecoveryAdvice(calc.HPCost),
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}

	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handlePreviewSession(c echo.Context) error {
	userID, err := userIDFrom(c)
	if err != nil {
		return err
	}

	sessionType, duration, err := economyQuery(c)
	if err != nil {
		return err
	}

	preview, err := s.app.PreviewSession(c.Request().Context(), userID, sessionType, duration)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, preview); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func economyQuery(c echo.Context) (domain.SessionType, int, error) {
	rawType := c.QueryParam("session_type")
	sessionType, err := domain.ParseSessionType(rawType)
	if err != nil {
		return "", 0, apperrors.ValidationError("invalid session type").WithField("session_type", rawType)
	}

	rawDuration := c.QueryParam("duration")
	duration, err := strconv.Atoi(rawDuration)
	if err != nil || duration < 0 || duration > maxDurationMinutes {
		return "", 0, apperrors.ValidationError(fmt.Sprintf("duration must be a whole number of minutes between 0 and %d", maxDurationMinutes)).
			WithField("duration", rawDuration)
	}
	return sessionType, duration, nil
}
