// Package metrics exposes Prometheus collectors for the tool endpoint.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ttsbridge"

// Metrics holds every collector of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	synthesisCalls   *prometheus.CounterVec
	synthesisBytes   prometheus.Counter
	synthesisSeconds prometheus.Histogram
	sessionsActive   prometheus.Gauge
	sessionsOpened   prometheus.Counter
	sessionsEvicted  prometheus.Counter
}

// New creates the collectors and registers them with reg. When reg is nil
// the collectors are created but not registered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool invocations",
			},
			[]string{"tool", "outcome"}, // outcome: ok or an error kind
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool invocations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		synthesisCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthesis_requests_total",
				Help:      "Total number of speech provider requests",
			},
			[]string{"status"}, // ok, error, timeout
		),
		synthesisBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthesis_audio_bytes_total",
				Help:      "Total audio bytes received from the speech provider",
			},
		),
		synthesisSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "synthesis_duration_seconds",
				Help:      "Speech provider response time in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
			},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of open event-stream sessions",
			},
		),
		sessionsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_opened_total",
				Help:      "Total number of event-stream sessions opened",
			},
		),
		sessionsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Sessions closed to make room for a newer session",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.toolCalls,
			m.toolDuration,
			m.synthesisCalls,
			m.synthesisBytes,
			m.synthesisSeconds,
			m.sessionsActive,
			m.sessionsOpened,
			m.sessionsEvicted,
		)
	}

	return m
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveSynthesis records one speech provider call.
func (m *Metrics) ObserveSynthesis(status string, bytes int, d time.Duration) {
	if m == nil {
		return
	}
	m.synthesisCalls.WithLabelValues(status).Inc()
	m.synthesisSeconds.Observe(d.Seconds())
	if bytes > 0 {
		m.synthesisBytes.Add(float64(bytes))
	}
}

// SessionOpened records a new event-stream session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.sessionsActive.Inc()
}

// SessionClosed records the end of a session. evicted is true when the
// session was closed to admit a newer one.
func (m *Metrics) SessionClosed(evicted bool) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	if evicted {
		m.sessionsEvicted.Inc()
	}
}

// Handler returns the HTTP handler serving metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
