package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the meeting audio service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Real-time session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram
	SessionMessages *prometheus.CounterVec
	ProtocolErrors  prometheus.Counter
	RealtimeChunks  *prometheus.CounterVec
	AlertsEmitted   *prometheus.CounterVec

	// Audio chunking metrics
	ChunksGenerated prometheus.Counter
	ChunkDuration   prometheus.Histogram

	// Orchestration metrics
	OrchestrationRuns     *prometheus.CounterVec
	OrchestrationFailures *prometheus.CounterVec
	OrchestrationDuration *prometheus.HistogramVec

	// Local ASR metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Remote backend metrics
	BackendCalls        *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil registerer falls back to the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Real-time session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meeting_active_sessions",
			Help: "Current number of open real-time sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "meeting_sessions_created_total",
			Help: "Total number of real-time sessions opened",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "meeting_sessions_closed_total",
			Help: "Total number of real-time sessions closed",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_session_duration_seconds",
			Help:    "Lifetime of real-time sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		SessionMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_session_messages_total",
			Help: "Total number of inbound real-time messages by type",
		}, []string{"type"}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "meeting_protocol_errors_total",
			Help: "Total number of malformed real-time messages",
		}),
		RealtimeChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_realtime_chunks_total",
			Help: "Total number of real-time chunks by result",
		}, []string{"result"}),
		AlertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_alerts_emitted_total",
			Help: "Total number of speaker alerts emitted by type",
		}, []string{"alert_type"}),

		// Audio chunking metrics
		ChunksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "meeting_audio_chunks_generated_total",
			Help: "Total number of audio chunks produced for parallel transcription",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_chunk_duration_seconds",
			Help:    "Duration of produced audio chunks",
			Buckets: prometheus.LinearBuckets(1, 5, 8), // 1s to 36s
		}),

		// Orchestration metrics
		OrchestrationRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_orchestration_runs_total",
			Help: "Total number of completed orchestration runs by strategy and fallback tier",
		}, []string{"strategy", "tier"}),
		OrchestrationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_orchestration_failures_total",
			Help: "Total number of orchestration runs that failed in the local pass",
		}, []string{"strategy"}),
		OrchestrationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meeting_orchestration_duration_seconds",
			Help:    "Wall time of orchestration runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3 minutes
		}, []string{"strategy"}),

		// Local ASR metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "meeting_transcription_requests_total",
			Help: "Total number of local transcription calls",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "meeting_transcription_successes_total",
			Help: "Total number of successful local transcription calls",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "meeting_transcription_failures_total",
			Help: "Total number of failed local transcription calls",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meeting_transcription_duration_seconds",
			Help:    "Duration of local transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~2 minutes
		}),

		// Remote backend metrics
		BackendCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_backend_calls_total",
			Help: "Total number of remote backend calls by backend and outcome",
		}, []string{"backend", "outcome"}),
		BackendCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meeting_backend_call_duration_seconds",
			Help:    "Duration of remote backend calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}, []string{"backend"}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meeting_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meeting_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionOpened increments the session counters
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.ActiveSessions.Inc()
}

// RecordSessionClosed records the end of a session and its lifetime
func (m *Metrics) RecordSessionClosed(duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsClosed.Inc()
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordSessionMessage counts an inbound message by type
func (m *Metrics) RecordSessionMessage(msgType string) {
	if m == nil {
		return
	}
	m.SessionMessages.WithLabelValues(msgType).Inc()
}

// RecordProtocolError increments the protocol error counter
func (m *Metrics) RecordProtocolError() {
	if m == nil {
		return
	}
	m.ProtocolErrors.Inc()
}

// RecordRealtimeChunk counts a real-time chunk as transcribed or filtered
func (m *Metrics) RecordRealtimeChunk(filtered bool) {
	if m == nil {
		return
	}
	result := "transcribed"
	if filtered {
		result = "filtered"
	}
	m.RealtimeChunks.WithLabelValues(result).Inc()
}

// RecordAlert counts an emitted speaker alert
func (m *Metrics) RecordAlert(alertType string) {
	if m == nil {
		return
	}
	m.AlertsEmitted.WithLabelValues(alertType).Inc()
}

// RecordChunkGenerated records an audio chunk produced by the splitter
func (m *Metrics) RecordChunkGenerated(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
}

// RecordOrchestration records a completed run with the tier that produced its text
func (m *Metrics) RecordOrchestration(strategy, tier string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OrchestrationRuns.WithLabelValues(strategy, tier).Inc()
	m.OrchestrationDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordOrchestrationFailure records a run aborted by a local engine failure
func (m *Metrics) RecordOrchestrationFailure(strategy string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OrchestrationFailures.WithLabelValues(strategy).Inc()
	m.OrchestrationDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordTranscription records one local engine call
func (m *Metrics) RecordTranscription(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
	if success {
		m.TranscriptionSuccesses.Inc()
	} else {
		m.TranscriptionFailures.Inc()
	}
	m.TranscriptionDuration.Observe(duration.Seconds())
}

// RecordBackendCall records one remote backend invocation
func (m *Metrics) RecordBackendCall(backendID string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.BackendCalls.WithLabelValues(backendID, outcome).Inc()
	m.BackendCallDuration.WithLabelValues(backendID).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
