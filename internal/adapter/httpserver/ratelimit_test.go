package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/adapter/metrics"
	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/platform/config"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRemoteAddr = "1.2.3.4:1234"

func TestRateLimiterAllowsRequestsUnderLimit(t *testing.T) {
	e := echo.New()
	mw := newRateLimiter(10, 3, nil) // 10 req/s, burst 3

	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = testRemoteAddr
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := handler(c)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimiterBlocksExcessiveRequests(t *testing.T) {
	e := echo.New()
	mw := newRateLimiter(0.01, 1, nil) // very low rate, burst 1

	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// First request: allowed (burst)
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := handler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second request: blocked
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = testRemoteAddr
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	err = handler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Retry-After"))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rate limit exceeded", resp["error"])
}

func TestRateLimiterDifferentIPsAreIndependent(t *testing.T) {
	e := echo.New()
	mw := newRateLimiter(0.01, 1, nil) // very low rate, burst 1

	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// First IP uses its burst
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = testRemoteAddr
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := handler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second IP still has its own burst
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "5.6.7.8:5678"
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	err = handler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	// First IP is now blocked
	req = httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = testRemoteAddr
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	err = handler(c)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiterKeysByPlayer(t *testing.T) {
	e := echo.New()
	m := metrics.NewHTTPMetrics(metrics.NewRegistry())
	mw := newRateLimiter(0.01, 1, m)

	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	call := func(userID uuid.UUID) int {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = testRemoteAddr
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.Set("userID", userID)
		require.NoError(t, handler(c))
		return rec.Code
	}

	alice, bob := uuid.New(), uuid.New()

	// Same IP, different players: each gets its own burst.
	assert.Equal(t, http.StatusOK, call(alice))
	assert.Equal(t, http.StatusOK, call(bob))
	assert.Equal(t, http.StatusTooManyRequests, call(alice))

	assert.InDelta(t, 1, testutil.ToFloat64(m.RateLimited.WithLabelValues(scopeUser)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.RateLimited.WithLabelValues(scopeIP)), 0)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(10))
	assert.Equal(t, 1, retryAfterSeconds(1))
	assert.Equal(t, 4, retryAfterSeconds(0.25))
	assert.Equal(t, 1, retryAfterSeconds(0))
}

func TestAPIRoutesAreRateLimited(t *testing.T) {
	srv := newTestServer(t, &mockAppService{}, withConfig(func(cfg *config.Config) {
		cfg.APIRateLimit = 0.01
		cfg.APIRateBurst = 1
	}))
	userID := uuid.New()

	rec := doRequest(t, srv, http.MethodGet, "/api/sessions", "", userID)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/sessions", "", userID)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(srv.httpMetrics.RateLimited.WithLabelValues(scopeUser)), 0)

	// Probes are never limited.
	rec = doRequest(t, srv, http.MethodGet, "/health/live", "", uuid.Nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
