package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/metrics"
	"github.com/jackc/pgx/v5"
)

// MetricsTracer records query durations and errors per named query.
type MetricsTracer struct{}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: extractQueryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	metrics.DBQueryDuration.WithLabelValues(qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		metrics.DBErrorsTotal.WithLabelValues(qctx.queryName).Inc()
	}
}

const namePrefix = "-- name:"

// extractQueryName keeps label cardinality low. Queries annotated with a
// leading "-- name: X" comment are labelled X; anything else by its verb.
func extractQueryName(sql string) string {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "unknown"
	}

	if rest, ok := strings.CutPrefix(sql, namePrefix); ok {
		line, _, _ := strings.Cut(rest, "\n")
		if name := strings.TrimSpace(line); name != "" {
			return name
		}
	}

	verb, _, _ := strings.Cut(sql, " ")
	verb = strings.TrimSpace(strings.SplitN(verb, "\n", 2)[0])
	if len(verb) > 20 {
		verb = verb[:20]
	}
	return strings.ToUpper(verb)
}
