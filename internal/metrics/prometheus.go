// Package metrics contains the Prometheus instrumentation for the
// interview service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the interview service.
type Metrics struct {
	// Voice session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   prometheus.Counter
	SessionsFailed  prometheus.Counter
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Audio pipeline metrics
	FramesForwarded prometheus.Counter
	UnitsScheduled  prometheus.Counter
	PayloadsDropped prometheus.Counter

	// Transcript metrics
	EntriesCommitted *prometheus.CounterVec

	// Persistence metrics
	SessionsSaved prometheus.Counter
	SaveFailures  prometheus.Counter

	// Chat metrics
	ChatRequests  prometheus.Counter
	ChatFallbacks prometheus.Counter
	ChatDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on the given registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_sessions_started_total",
			Help: "Total number of voice interview sessions started",
		}),
		SessionsEnded: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_sessions_ended_total",
			Help: "Total number of voice interview sessions ended gracefully",
		}),
		SessionsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_sessions_failed_total",
			Help: "Total number of voice interview sessions that ended in error",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "prepvox_active_sessions",
			Help: "Current number of live voice interview sessions",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prepvox_session_duration_seconds",
			Help:    "Duration of finished voice interview sessions",
			Buckets: prometheus.ExponentialBuckets(15, 2, 9), // 15s to ~1 hour
		}),
		FramesForwarded: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_audio_frames_forwarded_total",
			Help: "Total number of microphone frames forwarded to the model",
		}),
		UnitsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_audio_units_scheduled_total",
			Help: "Total number of playback units scheduled",
		}),
		PayloadsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_audio_payloads_dropped_total",
			Help: "Total number of malformed audio payloads dropped",
		}),
		EntriesCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prepvox_transcript_entries_total",
			Help: "Total number of committed transcript entries",
		}, []string{"speaker"}),
		SessionsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_sessions_saved_total",
			Help: "Total number of interview sessions persisted",
		}),
		SaveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_session_save_failures_total",
			Help: "Total number of failed interview session saves",
		}),
		ChatRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_chat_requests_total",
			Help: "Total number of chat messages processed",
		}),
		ChatFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "prepvox_chat_fallbacks_total",
			Help: "Total number of chat answers served by a fallback",
		}),
		ChatDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "prepvox_chat_duration_seconds",
			Help:    "Duration of chat model round trips",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "prepvox_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prepvox_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordSessionStarted marks one session as live.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionEnded marks one session as gracefully finished.
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionsEnded.Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionFailed marks one session as failed.
func (m *Metrics) RecordSessionFailed() {
	m.SessionsFailed.Inc()
	m.ActiveSessions.Dec()
}

// RecordEntryCommitted counts one committed transcript entry.
func (m *Metrics) RecordEntryCommitted(speaker string) {
	m.EntriesCommitted.WithLabelValues(speaker).Inc()
}

// RecordHTTPRequest records one finished HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
