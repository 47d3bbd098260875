package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/app"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/correlation"
	apperrors "github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareWithStructuredError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return apperrors.ValidationError("invalid input")
	})

	err := handler(c)
	require.NoError(t, err) // ErrorHandlingMiddleware handles the error, doesn't return it

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid input", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestMiddlewareWithStandardError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return errors.New("standard error")
	})

	err := handler(c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal server error", resp.Error)
	assert.Equal(t, apperrors.TypeInternal, resp.Type)
}

func TestMiddlewareWithNoError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})

	err := handler(c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestMiddlewareWithContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("userID", uuid.New())

	handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
		return apperrors.NotFoundError("session not found").
			WithContext("session_id", "123").
			WithContext("tab", "available")
	})

	err := handler(c)
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "session not found", resp.Error)
	assert.Equal(t, apperrors.TypeNotFound, resp.Type)
	assert.Len(t, resp.Context, 2)
	assert.Equal(t, "123", resp.Context["session_id"])
	assert.Equal(t, "available", resp.Context["tab"])
}

func TestMiddlewareAllErrorTypes(t *testing.T) {
	tests := []struct {
		name       string
		err        *apperrors.Error
		wantStatus int
		wantType   apperrors.ErrorType
	}{
		{
			name:       "validation",
			err:        apperrors.ValidationError("invalid"),
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeValidation,
		},
		{
			name:       "not_found",
			err:        apperrors.NotFoundError("missing"),
			wantStatus: http.StatusNotFound,
			wantType:   apperrors.TypeNotFound,
		},
		{
			name:       "forbidden",
			err:        apperrors.ForbiddenError("not yours"),
			wantStatus: http.StatusForbidden,
			wantType:   apperrors.TypeForbidden,
		},
		{
			name:       "rejected",
			err:        apperrors.RejectedError("Session is full", nil),
			wantStatus: http.StatusUnprocessableEntity,
			wantType:   apperrors.TypeRejected,
		},
		{
			name:       "conflict",
			err:        apperrors.ConflictError("duplicate"),
			wantStatus: http.StatusConflict,
			wantType:   apperrors.TypeConflict,
		},
		{
			name:       "internal",
			err:        apperrors.InternalError("failed", errors.New("cause")),
			wantStatus: http.StatusInternalServerError,
			wantType:   apperrors.TypeInternal,
		},
		{
			name:       "external",
			err:        apperrors.ExternalError("api failed", errors.New("timeout")),
			wantStatus: http.StatusBadGateway,
			wantType:   apperrors.TypeExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			handler := ErrorHandlingMiddleware()(func(c echo.Context) error {
				return tt.err
			})

			err := handler(c)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantType, resp.Type)
		})
	}
}

func TestHandleError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := HandleError(c, apperrors.ValidationError("test"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "test", resp.Error)
	assert.Equal(t, apperrors.TypeValidation, resp.Type)
}

func TestHandleErrorWithNil(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := HandleError(c, nil)
	assert.NoError(t, err)
}


func TestMiddlewareMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantType    apperrors.ErrorType
		wantMessage string
	}{
		{
			name:        "session not found",
			err:         fmt.Errorf("load session: %w", domain.ErrSessionNotFound),
			wantStatus:  http.StatusNotFound,
			wantType:    apperrors.TypeNotFound,
			wantMessage: "session not found",
		},
		{
			name:        "player not found",
			err:         domain.ErrPlayerNotFound,
			wantStatus:  http.StatusNotFound,
			wantType:    apperrors.TypeNotFound,
			wantMessage: "player not found",
		},
		{
			name:        "not the creator",
			err:         domain.ErrNotSessionCreator,
			wantStatus:  http.StatusForbidden,
			wantType:    apperrors.TypeForbidden,
			wantMessage: "only the session creator can do that",
		},
		{
			name:        "session closed",
			err:         fmt.Errorf("%w: status is completed", domain.ErrSessionNotOpen),
			wantStatus:  http.StatusConflict,
			wantType:    apperrors.TypeConflict,
			wantMessage: "session is not open",
		},
		{
			name:        "join rejected keeps the procedure reason",
			err:         fmt.Errorf("%w: %s", domain.ErrJoinRejected, "Session is full"),
			wantStatus:  http.StatusUnprocessableEntity,
			wantType:    apperrors.TypeRejected,
			wantMessage: "Session is full",
		},
		{
			name:        "insufficient tokens",
			err:         fmt.Errorf("%w: %s", domain.ErrInsufficientTokens, "Insufficient tokens to join this session"),
			wantStatus:  http.StatusUnprocessableEntity,
			wantType:    apperrors.TypeRejected,
			wantMessage: "Insufficient tokens to join this session",
		},
		{
			name:        "leave rejected",
			err:         fmt.Errorf("%w: %s", domain.ErrLeaveRejected, "You are not a participant in this session"),
			wantStatus:  http.StatusUnprocessableEntity,
			wantType:    apperrors.TypeRejected,
			wantMessage: "You are not a participant in this session",
		},
		{
			name:       "invalid session input",
			err:        fmt.Errorf("%w: max_players must be between 1 and 64", domain.ErrInvalidSessionInput),
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeValidation,
		},
		{
			name:       "invalid tab",
			err:        fmt.Errorf("%w: %q", app.ErrInvalidTab, "archived"),
			wantStatus: http.StatusBadRequest,
			wantType:   apperrors.TypeValidation,
		},
		{
			name:        "unknown error",
			err:         errors.New("connection reset"),
			wantStatus:  http.StatusInternalServerError,
			wantType:    apperrors.TypeInternal,
			wantMessage: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := callHandler(func(c echo.Context) error { return tt.err }, c)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp apperrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantType, resp.Type)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, resp.Error)
			}
		})
	}
}

func TestMiddlewarePassesThroughHTTPError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := callHandler(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnauthorized, "nope")
	}, c)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestRequireUser(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name       string
		header     string
		query      string
		upgrade    bool
		wantStatus int
	}{
		{name: "header", header: userID.String(), wantStatus: http.StatusOK},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "malformed", header: "not-a-uuid", wantStatus: http.StatusUnauthorized},
		{name: "query ignored without upgrade", query: userID.String(), wantStatus: http.StatusUnauthorized},
		{name: "query on upgrade", query: userID.String(), upgrade: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &mockAppService{})
			e := echo.New()

			target := "/test"
			if tt.query != "" {
				target += "?user_id=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set(UserIDHeader, tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			var seen uuid.UUID
			var seenInContext string
			handler := srv.requireUser(func(c echo.Context) error {
				seen, _ = c.Get("userID").(uuid.UUID)
				seenInContext, _ = correlation.User(c.Request().Context())
				return c.NoContent(http.StatusOK)
			})

			err := handler(c)
			if tt.wantStatus != http.StatusOK {
				var httpErr *echo.HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, tt.wantStatus, httpErr.Code)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, userID, seen)
			assert.Equal(t, userID.String(), seenInContext)
		})
	}
}

func TestCorrelationMiddleware(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		var id string
		err := correlationMiddleware(func(c echo.Context) error {
			id, _ = correlation.ID(c.Request().Context())
			return nil
		})(c)

		require.NoError(t, err)
		assert.Len(t, id, 8)
		assert.Equal(t, id, rec.Header().Get(correlation.HeaderName))
	})

	t.Run("keeps the caller's id", func(t *testing.T) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(correlation.HeaderName, "req-42")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		var id string
		err := correlationMiddleware(func(c echo.Context) error {
			id, _ = correlation.ID(c.Request().Context())
			return nil
		})(c)

		require.NoError(t, err)
		assert.Equal(t, "req-42", id)
		assert.Equal(t, "req-42", rec.Header().Get(correlation.HeaderName))
	})
}
