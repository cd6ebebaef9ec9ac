package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the instruction extraction service
type Metrics struct {
	// Live session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsSaved    prometheus.Counter
	SessionsDiscard  prometheus.Counter
	SessionDuration  prometheus.Histogram
	AudioChunksRecv  prometheus.Counter
	DecodeErrors     prometheus.Counter

	// Decode metrics
	DecodesPerformed prometheus.Counter
	DecodeDuration   prometheus.Histogram
	DecodedAudioSec  prometheus.Counter

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram

	// Extraction metrics
	ExtractionRequests     prometheus.Counter
	ExtractionFailures     prometheus.Counter
	InstructionsExtracted  prometheus.Counter

	// Synthesis metrics
	SynthesisRequests prometheus.Counter
	SynthesisFailures prometheus.Counter
	SynthesisDuration prometheus.Histogram

	// Job metrics
	JobsCreated  prometheus.Counter
	JobsDeleted  prometheus.Counter
	JobDuration  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Live session metrics
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "apd_active_sessions",
			Help: "Current number of active live sessions",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_sessions_created_total",
			Help: "Total number of live sessions created",
		}),
		SessionsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_sessions_saved_total",
			Help: "Total number of live sessions saved as jobs",
		}),
		SessionsDiscard: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_sessions_discarded_total",
			Help: "Total number of live sessions discarded",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apd_session_duration_seconds",
			Help:    "Duration of live sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),
		AudioChunksRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_audio_chunks_received_total",
			Help: "Total number of binary audio frames received from live clients",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_decode_errors_total",
			Help: "Total number of audio decode failures",
		}),

		// Decode metrics
		DecodesPerformed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_decodes_performed_total",
			Help: "Total number of envelope decode passes",
		}),
		DecodeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apd_decode_duration_seconds",
			Help:    "Time spent decoding compressed audio",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),
		DecodedAudioSec: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_decoded_audio_seconds_total",
			Help: "Total seconds of PCM audio produced by decoding",
		}),

		// Transcription metrics
		TranscriptionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apd_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Extraction metrics
		ExtractionRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_extraction_requests_total",
			Help: "Total number of instruction extraction requests sent",
		}),
		ExtractionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_extraction_failures_total",
			Help: "Total number of failed instruction extraction requests",
		}),
		InstructionsExtracted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_instructions_extracted_total",
			Help: "Total number of instructions extracted from transcripts",
		}),

		// Synthesis metrics
		SynthesisRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_synthesis_requests_total",
			Help: "Total number of text-to-speech requests sent",
		}),
		SynthesisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_synthesis_failures_total",
			Help: "Total number of failed text-to-speech requests",
		}),
		SynthesisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apd_synthesis_duration_seconds",
			Help:    "Duration of text-to-speech requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Job metrics
		JobsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_jobs_created_total",
			Help: "Total number of jobs persisted",
		}),
		JobsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "apd_jobs_deleted_total",
			Help: "Total number of jobs deleted",
		}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "apd_job_duration_seconds",
			Help:    "End-to-end duration of batch pipeline jobs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8 minutes
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "apd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveSessions sets the current number of active live sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionSaved increments the sessions saved counter
func (m *Metrics) RecordSessionSaved() {
	m.SessionsSaved.Inc()
}

// RecordSessionDiscarded increments the sessions discarded counter
func (m *Metrics) RecordSessionDiscarded() {
	m.SessionsDiscard.Inc()
}

// RecordSessionClosed records a closed session and its duration
func (m *Metrics) RecordSessionClosed(durationSeconds float64) {
	m.SessionDuration.Observe(durationSeconds)
}

// RecordAudioChunk increments the audio frames received counter
func (m *Metrics) RecordAudioChunk() {
	m.AudioChunksRecv.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordDecode records one decode pass and the audio it produced
func (m *Metrics) RecordDecode(durationSeconds, audioSeconds float64) {
	m.DecodesPerformed.Inc()
	m.DecodeDuration.Observe(durationSeconds)
	m.DecodedAudioSec.Add(audioSeconds)
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordExtraction records an extraction request and how many instructions it produced
func (m *Metrics) RecordExtraction(instructionCount int) {
	m.ExtractionRequests.Inc()
	m.InstructionsExtracted.Add(float64(instructionCount))
}

// RecordExtractionFailure records a failed extraction request
func (m *Metrics) RecordExtractionFailure() {
	m.ExtractionRequests.Inc()
	m.ExtractionFailures.Inc()
}

// RecordSynthesisSuccess records a successful text-to-speech request
func (m *Metrics) RecordSynthesisSuccess(durationSeconds float64) {
	m.SynthesisRequests.Inc()
	m.SynthesisDuration.Observe(durationSeconds)
}

// RecordSynthesisFailure records a failed text-to-speech request
func (m *Metrics) RecordSynthesisFailure(durationSeconds float64) {
	m.SynthesisRequests.Inc()
	m.SynthesisFailures.Inc()
	m.SynthesisDuration.Observe(durationSeconds)
}

// RecordJobCreated records a persisted job and its pipeline duration
func (m *Metrics) RecordJobCreated(durationSeconds float64) {
	m.JobsCreated.Inc()
	m.JobDuration.Observe(durationSeconds)
}

// RecordJobDeleted increments the jobs deleted counter
func (m *Metrics) RecordJobDeleted() {
	m.JobsDeleted.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
