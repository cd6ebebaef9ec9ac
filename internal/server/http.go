package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beingfastian/apd-listener-tool/internal/config"
	"github.com/beingfastian/apd-listener-tool/internal/extract"
	"github.com/beingfastian/apd-listener-tool/internal/metrics"
	"github.com/beingfastian/apd-listener-tool/internal/pipeline"
	"github.com/beingfastian/apd-listener-tool/internal/session"
	"github.com/beingfastian/apd-listener-tool/internal/store"
	"github.com/beingfastian/apd-listener-tool/internal/synthesis"
	"github.com/beingfastian/apd-listener-tool/internal/transcription"
)

// JobProcessor runs the batch pipeline and deletes jobs with their artifacts
type JobProcessor interface {
	ProcessAudio(ctx context.Context, compressed []byte) (*pipeline.JobResult, error)
	ProcessText(ctx context.Context, text string) (*pipeline.JobResult, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// TranscriptionStats exposes transcription client statistics for /stats
type TranscriptionStats interface {
	GetStats() transcription.ClientStats
}

// SynthesisStats exposes text-to-speech client statistics for /stats
type SynthesisStats interface {
	GetStats() synthesis.ClientStats
}

// HTTPServer provides the batch API, job management, the live websocket
// endpoint, and monitoring endpoints
type HTTPServer struct {
	server     *http.Server
	logger     *slog.Logger
	config     *config.Config
	processor  JobProcessor
	jobs       *store.JobStore
	sessionMgr *session.Manager
	transcStat TranscriptionStats
	synthStat  SynthesisStats
	metrics    *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates the HTTP API server. transcStat and synthStat may be nil.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, processor JobProcessor,
	jobs *store.JobStore, sessionMgr *session.Manager, transcStat TranscriptionStats,
	synthStat SynthesisStats, m *metrics.Metrics) (*HTTPServer, error) {

	if cfg == nil || processor == nil || jobs == nil || sessionMgr == nil {
		return nil, fmt.Errorf("config, processor, jobs and sessionMgr must be set")
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:     logger,
		config:     cfg,
		processor:  processor,
		jobs:       jobs,
		sessionMgr: sessionMgr,
		transcStat: transcStat,
		synthStat:  synthStat,
		metrics:    m,
		startTime:  time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  5 * time.Minute, // uploads can be large
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}

	return h, nil
}

// Handler returns the route handler, for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/analyze-audio", h.withMetrics("/analyze-audio", h.handleAnalyzeAudio))
	mux.HandleFunc("/analyze-text", h.withMetrics("/analyze-text", h.handleAnalyzeText))

	mux.HandleFunc("/jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("/jobs/", h.withMetrics("/jobs/{id}", h.handleJobDetail))

	// Websocket upgrade; metrics for live sessions are recorded by the
	// session manager, not the request wrapper
	mux.HandleFunc("/live", h.handleLive)

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("starting HTTP server", "address", h.server.Addr)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("stopping HTTP server")
	return h.server.Shutdown(ctx)
}

// allowedUploadExtensions are acceptable audio file suffixes when the part's
// content type is not an audio type
var allowedUploadExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".webm": true,
	".ogg":  true,
}

// handleAnalyzeAudio implements POST /analyze-audio: multipart audio upload
// through the full transcription pipeline
func (h *HTTPServer) handleAnalyzeAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	maxBytes := int64(h.config.Audio.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	if !acceptableAudioUpload(header.Filename, header.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported audio upload %q", header.Filename))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	result, err := h.processor.ProcessAudio(r.Context(), data)
	if err != nil {
		h.logger.Error("audio analysis failed", "filename", header.Filename, "error", err)
		writeError(w, upstreamStatus(err), "failed to process audio")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// analyzeTextRequest is the POST /analyze-text body
type analyzeTextRequest struct {
	Text string `json:"text"`
}

// handleAnalyzeText implements POST /analyze-text: the same pipeline minus
// transcription
func (h *HTTPServer) handleAnalyzeText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req analyzeTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.processor.ProcessText(r.Context(), req.Text)
	if err != nil {
		h.logger.Error("text analysis failed", "error", err)
		writeError(w, upstreamStatus(err), "failed to process text")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleJobs implements GET /jobs with an optional ?limit= parameter
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	jobs, err := h.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(jobs),
		"jobs":  jobs,
	})
}

// handleJobDetail implements GET and DELETE on /jobs/{id}
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusBadRequest, "job id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		detail, err := h.jobs.GetJobDetail(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			h.logger.Error("failed to load job", "job_id", jobID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load job")
			return
		}
		writeJSON(w, http.StatusOK, detail)

	case http.MethodDelete:
		err := h.processor.DeleteJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			h.logger.Error("failed to delete job", "job_id", jobID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete job")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": jobID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobCount, err := h.jobs.CountJobs(r.Context())
	if err != nil {
		h.logger.Warn("failed to count jobs for health check", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"components": map[string]any{
			"live_sessions": map[string]any{
				"status": "running",
				"active": h.sessionMgr.Count(),
			},
			"jobs": map[string]any{
				"status": "running",
				"total":  jobCount,
			},
		},
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	jobCount, _ := h.jobs.CountJobs(r.Context())

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions": map[string]any{
			"active_count": h.sessionMgr.Count(),
		},
		"jobs": map[string]any{
			"total_count": jobCount,
		},
	}
	if h.transcStat != nil {
		stats["transcription"] = h.transcStat.GetStats()
	}
	if h.synthStat != nil {
		stats["synthesis"] = h.synthStat.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service": "APD Listener Tool",
		"version": "1.0.0",
		"endpoints": map[string]any{
			"POST /analyze-audio": "Upload audio for transcription and instruction extraction",
			"POST /analyze-text":  "Submit transcript text for instruction extraction",
			"GET /jobs":           "List processed jobs, newest first",
			"GET /jobs/{id}":      "Get a job with its instructions and audio chunks",
			"DELETE /jobs/{id}":   "Delete a job and its stored audio",
			"GET /live":           "Websocket live transcription session",
			"GET /health":         "Service health check",
			"GET /stats":          "Service statistics",
			"GET /metrics":        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

// acceptableAudioUpload gates uploads on content type or file extension
func acceptableAudioUpload(filename, contentType string) bool {
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			if strings.HasPrefix(mt, "audio/") || mt == "video/webm" {
				return true
			}
		}
	}
	return allowedUploadExtensions[strings.ToLower(path.Ext(filename))]
}

// upstreamStatus maps pipeline errors onto HTTP status codes
func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, transcription.ErrUpstream),
		errors.Is(err, extract.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
