package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	ruleExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_rule_executions_total",
			Help: "Total rule executions by trigger event and outcome",
		},
		[]string{"event", "status"},
	)

	actionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_actions_total",
			Help: "Total rule actions executed by type and outcome",
		},
		[]string{"action_type", "status"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_notifications_created_total",
			Help: "Smart notifications created by event and severity",
		},
		[]string{"event", "severity"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_deliveries_total",
			Help: "Delivery outcomes by channel and status",
		},
		[]string{"channel", "status"},
	)

	deliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_delivery_attempts_total",
			Help: "Individual delivery attempts by channel",
		},
		[]string{"channel"},
	)

	deliveryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "automation_delivery_queue_depth",
			Help: "Deliveries currently held in the in-memory queue",
		},
	)

	scheduledRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_scheduled_runs_total",
			Help: "Scheduled task runs by task name and outcome",
		},
		[]string{"task", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRuleExecution records one rule firing.
func RecordRuleExecution(event, status string) {
	ruleExecutionsTotal.WithLabelValues(event, status).Inc()
}

// RecordAction records one action attempt.
func RecordAction(actionType, status string) {
	actionsTotal.WithLabelValues(actionType, status).Inc()
}

// RecordNotificationCreated records one smart notification build.
func RecordNotificationCreated(event, severity string) {
	notificationsCreated.WithLabelValues(event, severity).Inc()
}

// RecordDelivery records a delivery reaching a terminal or sent state.
func RecordDelivery(channel, status string) {
	deliveriesTotal.WithLabelValues(channel, status).Inc()
}

// RecordDeliveryAttempt records one transport attempt.
func RecordDeliveryAttempt(channel string) {
	deliveryAttempts.WithLabelValues(channel).Inc()
}

// SetDeliveryQueueDepth sets the current in-memory queue size.
func SetDeliveryQueueDepth(depth int) {
	deliveryQueueDepth.Set(float64(depth))
}

// RecordScheduledRun records one scheduled task run.
func RecordScheduledRun(task, status string) {
	scheduledRunsTotal.WithLabelValues(task, status).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
