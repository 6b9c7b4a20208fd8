package authkit

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricAuthRegisterSuccess = "auth.register.success"
	metricAuthRegisterFailure = "auth.register.failure"
	metricAuthLoginSuccess    = "auth.login.success"
	metricAuthLoginFailure    = "auth.login.failure"
	metricAuthLoginBlocked    = "auth.login.blocked"
	metricAuthRefreshSuccess  = "auth.refresh.success"
	metricAuthRefreshFailure  = "auth.refresh.failure"
	metricAuthLogoutSuccess   = "auth.logout.success"
	metricAuthLogoutFailure   = "auth.logout.failure"
	metricAuthRevokeSuccess   = "auth.revoke.success"
	metricAuthGateRejected    = "auth.gate.rejected"
)

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}

// CounterMetrics implements MetricsRecorder with in-memory counts.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}

// PrometheusMetrics exports auth events as a labelled Prometheus counter.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics registers the auth event counter on the given registerer.
func NewPrometheusMetrics(registerer prometheus.Registerer) (*PrometheusMetrics, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "todoauth",
		Subsystem: "auth",
		Name:      "events_total",
		Help:      "Authentication events by outcome.",
	}, []string{"event"})
	if err := registerer.Register(events); err != nil {
		return nil, fmt.Errorf("metrics.register: %w", err)
	}
	return &PrometheusMetrics{events: events}, nil
}

// Increment increases the counter for the given event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}

// Counter exposes the underlying vector for scraping helpers and tests.
func (recorder *PrometheusMetrics) Counter() *prometheus.CounterVec {
	return recorder.events
}
