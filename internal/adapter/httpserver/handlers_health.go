package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/version"
	"github.com/labstack/echo/v4"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Name    string  `json:"name"`
	Healthy bool    `json:"healthy"`
	Seconds float64 `json:"seconds"`
	Error   string  `json:"error,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), startupProbeTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	return s.runHealthChecks(c, ctx)
}

// runHealthChecks runs every check, even after a failure, so one probe reports
// every broken dependency. failed_check names the first failure.
func (s *Server) runHealthChecks(c echo.Context, ctx context.Context) error {
	results := make([]checkResult, 0, len(s.healthChecks))
	failed := -1

	for _, hc := range s.healthChecks {
		start := time.Now()
		err := hc.Check(ctx)
		res := checkResult{Name: hc.Name, Healthy: err == nil, Seconds: time.Since(start).Seconds()}
		if err != nil {
			res.Error = err.Error()
		}
		if err != nil && failed < 0 {
			failed = len(results)
		}
		results = append(results, res)
	}

	status := http.StatusOK
	response := map[string]any{"status": "ready", "checks": results}
	if failed >= 0 {
		status = http.StatusServiceUnavailable
		response["status"] = "unhealthy"
		response["failed_check"] = results[failed].Name
		response["error"] = results[failed].Error
	}

	if err := c.JSON(status, response); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
