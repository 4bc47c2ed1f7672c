// Package metrics exposes Prometheus collectors for sync runs, per-message
// outcomes and HTTP traffic. Label sets are fixed and small.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nhle/inbox-sync/internal/model"
)

// Message outcomes recorded per processed candidate.
const (
	OutcomeStored     = "stored"
	OutcomeDuplicate  = "duplicate"
	OutcomeSkipped    = "skipped"
	OutcomeAutoReply  = "auto_reply"
	OutcomeClassified = "classified"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	messages    *prometheus.CounterVec
	remoteCalls *prometheus.CounterVec
	httpReqs    *prometheus.CounterVec
	httpLat     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_runs_total",
				Help: "Sync runs by outcome.",
			},
			[]string{"mailbox", "outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inboxsync_run_duration_seconds",
				Help:    "Duration of admitted sync runs.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
		),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_messages_total",
				Help: "Candidate messages by outcome.",
			},
			[]string{"outcome"},
		),
		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_remote_classifications_total",
				Help: "Remote classification attempts by result.",
			},
			[]string{"result"},
		),
		httpReqs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inboxsync_http_requests_total",
				Help: "HTTP requests by method, route and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpLat: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inboxsync_http_request_duration_seconds",
				Help:    "HTTP request latency by method and route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
	reg.MustRegister(m.runs, m.runDuration, m.messages, m.remoteCalls, m.httpReqs, m.httpLat)
	return m
}

// ObserveRun records the outcome of one trigger.
func (m *Metrics) ObserveRun(s model.RunSummary) {
	if m == nil {
		return
	}
	outcome := "completed"
	switch {
	case s.Throttled:
		outcome = "throttled"
	case s.Aborted:
		outcome = "aborted"
	}
	m.runs.WithLabelValues(s.Mailbox, outcome).Inc()
	if !s.Throttled {
		m.runDuration.Observe(s.Duration.Seconds())
	}
}

// Message records one candidate outcome.
func (m *Metrics) Message(outcome string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(outcome).Inc()
}

// RemoteClassification records a remote attempt; err is the refinement
// failure, nil on success.
func (m *Metrics) RemoteClassification(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "fallback"
	}
	m.remoteCalls.WithLabelValues(result).Inc()
}

// Middleware instruments gin routes. The path label is the registered
// route, never the raw URL.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
