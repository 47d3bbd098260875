package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/app"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/correlation"
	apperrors "github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// UserIDHeader carries the acting player's id, set by the authenticating proxy.
const UserIDHeader = "X-User-ID"

const maxCorrelationIDLength = 64

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(correlation.HeaderName)
		if id == "" || len(id) > maxCorrelationIDLength {
			id = correlation.NewID()
		}
		c.Response().Header().Set(correlation.HeaderName, id)
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// requireUser resolves the acting player. Browsers cannot set headers on a
// WebSocket handshake, so upgrades may pass the id as a query parameter.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(UserIDHeader)
		if raw == "" && isWebSocketUpgrade(c.Request()) {
			raw = c.QueryParam("user_id")
		}
		if raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing player identity")
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid player identity")
		}

		c.Set("userID", userID)
		ctx := correlation.WithUser(c.Request().Context(), userID.String())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func userIDFrom(c echo.Context) (uuid.UUID, error) {
	userID, ok := c.Get("userID").(uuid.UUID)
	if !ok {
		return uuid.Nil, apperrors.InternalError("invalid player ID in context", nil)
	}
	return userID, nil
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := apperrors.AsStructuredError(mapDomainError(err))
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

// mapDomainError turns well-known domain failures into structured errors.
// Anything already structured, or unknown, passes through unchanged.
func mapDomainError(err error) error {
	var structuredErr *apperrors.Error
	if errors.As(err, &structuredErr) {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return apperrors.NotFoundError("session not found")
	case errors.Is(err, domain.ErrPlayerNotFound):
		return apperrors.NotFoundError("player not found")
	case errors.Is(err, domain.ErrNotSessionCreator):
		return apperrors.ForbiddenError("only the session creator can do that")
	case errors.Is(err, domain.ErrSessionNotOpen):
		return apperrors.ConflictError("session is not open")
	case errors.Is(err, domain.ErrInsufficientTokens),
		errors.Is(err, domain.ErrJoinRejected),
		errors.Is(err, domain.ErrLeaveRejected):
		return apperrors.RejectedError(rejectionMessage(err), err)
	case errors.Is(err, domain.ErrInvalidSessionType),
		errors.Is(err, domain.ErrInvalidSessionInput),
		errors.Is(err, app.ErrInvalidTab):
		return apperrors.ValidationError(err.Error())
	default:
		return err
	}
}

// rejectionMessage strips the sentinel prefix so the player sees the reason
// the procedure gave ("join rejected: Session is full" becomes "Session is full").
func rejectionMessage(err error) string {
	msg := err.Error()
	if _, reason, ok := strings.Cut(msg, ": "); ok {
		return reason
	}
	return msg
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeForbidden:
		slog.InfoContext(ctx, "Forbidden", attrs...)
	case apperrors.TypeRejected:
		slog.InfoContext(ctx, "Rejected", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.AsStructuredError(mapDomainError(err))
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}
