package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Subscription Coordinator Metrics
var (
	CoordinatorRequestsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_requests_active",
			Help: "Registered subscription requests bound to a live channel",
		},
	)

	CoordinatorRequestsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_requests_pending",
			Help: "Subscription requests waiting for a channel slot",
		},
	)

	CoordinatorChannelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_channels_active",
			Help: "Open realtime channels owned by the coordinator",
		},
	)

	// CoordinatorSubscribeFailures tracks failed channel subscribe handshakes by table
	CoordinatorSubscribeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_subscribe_failures_total",
			Help: "Total failed realtime subscribe attempts by table",
		},
		[]string{"table"},
	)

	CoordinatorCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coordinator_callbacks_total",
			Help: "Total change callbacks dispatched by table",
		},
		[]string{"table"},
	)

	CoordinatorCallbackPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_callback_panics_total",
			Help: "Total change callbacks that panicked",
		},
	)

	// CoordinatorCommandChannelDepth tracks pending actor commands
	CoordinatorCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coordinator_command_channel_depth",
			Help: "Number of pending commands in the coordinator command channel",
		},
	)

	CoordinatorStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coordinator_stop_timeouts_total",
			Help: "Total coordinator shutdowns that exceeded the stop timeout",
		},
	)
)

// Change Feed Metrics
var (
	ChangeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_published_total",
			Help: "Total row change events published by table",
		},
		[]string{"table"},
	)

	ChangeEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_received_total",
			Help: "Total row change events received by table",
		},
		[]string{"table"},
	)

	// ChangePublishFailuresTotal counts publishes that failed after their retry
	ChangePublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_publish_failures_total",
			Help: "Total change events that could not be published by table",
		},
		[]string{"table"},
	)

	// ChangeEventsDropped tracks events dropped because a subscriber was too slow
	ChangeEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_dropped_total",
			Help: "Total row change events dropped by table",
		},
		[]string{"table"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Total user notifications by level and status",
		},
		[]string{"level", "status"},
	)
)

// Session Metrics
var (
	// SessionFetchTotal tracks session list fetches by tab and final status
	SessionFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_fetch_total",
			Help: "Total session list fetches by tab and status",
		},
		[]string{"tab", "status"},
	)

	SessionFetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_fetch_retries_total",
			Help: "Total session list fetch retries by tab",
		},
		[]string{"tab"},
	)

	SessionFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_fetch_duration_seconds",
			Help:    "Session list fetch duration in seconds, retries included",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"tab"},
	)

	// SessionJoinTotal tracks join attempts by result (joined, insufficient_tokens, rejected, error)
	SessionJoinTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_join_total",
			Help: "Total session join attempts by result",
		},
		[]string{"result"},
	)

	SessionLeaveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_leave_total",
			Help: "Total session leave attempts by result",
		},
		[]string{"result"},
	)

	TokensRefundedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokens_refunded_total",
			Help: "Total stake tokens refunded on leave",
		},
	)

	SessionsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessions_completed_total",
			Help: "Total sessions completed by session type",
		},
		[]string{"session_type"},
	)

	FeedsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "session_feeds_active",
			Help: "Open live session feeds by tab",
		},
		[]string{"tab"},
	)
)

// WebSocket Metrics
var (
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "Time to write a message to a WebSocket client",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket pings",
		},
	)

	WebSocketIdleDisconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_idle_disconnects_total",
			Help: "Total WebSocket connections closed for inactivity",
		},
	)

	WebSocketSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_slow_clients_evicted_total",
			Help: "Total WebSocket clients disconnected for not keeping up",
		},
	)

	StreamerConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamer_connected_clients",
			Help: "WebSocket clients currently receiving live session feeds",
		},
	)

	StreamerActiveUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamer_active_users",
			Help: "Distinct users with at least one live feed connection",
		},
	)

	StreamerCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamer_command_channel_depth",
			Help: "Pending commands in the streamer actor channel",
		},
	)

	StreamerStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamer_stop_timeouts_total",
			Help: "Total streamer shutdowns that exceeded the stop timeout",
		},
	)
)

// Database Metrics
var (
	// DBQueryDuration tracks database query duration by query name
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// DBConnectionsCurrent tracks current database connections by state
	DBConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_connections_current",
			Help: "Current database connections by state (active/idle)",
		},
		[]string{"state"},
	)

	// DBErrorsTotal tracks database errors by query name
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total database errors by query",
		},
		[]string{"query"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)
