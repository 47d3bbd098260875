package httpserver

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/adapter/metrics"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

const (
	scopeUser = "user"
	scopeIP   = "ip"
)

// rateKey buckets identified players individually so players behind one NAT
// do not share a budget. Anonymous calls fall back to the client IP.
func rateKey(c echo.Context) string {
	if userID, ok := c.Get("userID").(uuid.UUID); ok {
		return scopeUser + ":" + userID.String()
	}
	return scopeIP + ":" + c.RealIP()
}

// retryAfterSeconds is how long a drained bucket needs for one token.
func retryAfterSeconds(ratePerSecond float64) int {
	if ratePerSecond <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(1/ratePerSecond)))
}

func newRateLimiter(ratePerSecond float64, burst int, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	retryAfter := strconv.Itoa(retryAfterSeconds(ratePerSecond))

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return rateKey(c), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			scope, _, _ := strings.Cut(identifier, ":")
			if m != nil {
				m.RateLimited.WithLabelValues(scope).Inc()
			}
			slog.WarnContext(c.Request().Context(), "API rate limit exceeded", "scope", scope, "route", c.Path())

			c.Response().Header().Set("Retry-After", retryAfter)
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
	})
}
