package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
	"github.com/skypro1111/meeting-audio-service/internal/config"
	"github.com/skypro1111/meeting-audio-service/internal/metrics"
	"github.com/skypro1111/meeting-audio-service/internal/orchestrator"
	"github.com/skypro1111/meeting-audio-service/internal/profile"
	"github.com/skypro1111/meeting-audio-service/internal/stream"
	"github.com/skypro1111/meeting-audio-service/internal/summary"
	"github.com/skypro1111/meeting-audio-service/internal/transcription"
	"github.com/skypro1111/meeting-audio-service/internal/vad"
)

// Version is reported by the diagnostic endpoints
const Version = "2.0.0"

// Pipeline runs transcription strategies
type Pipeline interface {
	Process(ctx context.Context, strategy orchestrator.Strategy, buf audio.Buffer) (*orchestrator.Outcome, error)
	ProcessRealtime(ctx context.Context, buf audio.Buffer, language string) (orchestrator.RealtimeResult, error)
	Health(ctx context.Context) (engineErr error, backends map[string]bool)
	EngineName() string
	Language() string
}

// AudioLoader decodes files and in-memory payloads into normalized buffers
type AudioLoader interface {
	Load(ctx context.Context, path string) (audio.Buffer, int, error)
	DecodeContainer(ctx context.Context, data []byte, format string, sampleRate int) (audio.Buffer, error)
}

// SpeakerEstimator guesses the speaker count of a buffer
type SpeakerEstimator interface {
	EstimateSpeakers(buf audio.Buffer) vad.SpeakerEstimate
	GetStats() vad.DetectorStats
}

// Summarizer builds meeting reports
type Summarizer interface {
	GenerateComprehensiveSummary(ctx context.Context, text string) summary.Report
}

// EngineStats exposes local engine client statistics
type EngineStats interface {
	GetStats() transcription.ClientStats
}

// Dependencies are the components served over HTTP
type Dependencies struct {
	Pipeline   Pipeline
	Loader     AudioLoader
	Speakers   SpeakerEstimator
	Summarizer Summarizer
	Profiles   *profile.Store
	Streams    *stream.Manager
	Engine     EngineStats         // optional
	Gatherer   prometheus.Gatherer // nil serves the default registry
	Metrics    *metrics.Metrics
}

// HTTPServer provides the HTTP API
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	deps     Dependencies
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics

	fileStrategy   orchestrator.Strategy
	uploadStrategy orchestrator.Strategy
	origins        map[string]bool
	anyOrigin      bool

	startTime time.Time
}

// NewHTTPServer creates the API server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, deps Dependencies) (*HTTPServer, error) {
	if deps.Pipeline == nil || deps.Loader == nil || deps.Speakers == nil ||
		deps.Summarizer == nil || deps.Profiles == nil || deps.Streams == nil {
		return nil, errors.New("http server is missing a required dependency")
	}

	fileStrategy, err := orchestrator.ParseStrategy(appConfig.Orchestrator.FileStrategy)
	if err != nil {
		return nil, fmt.Errorf("invalid file strategy: %w", err)
	}
	uploadStrategy, err := orchestrator.ParseStrategy(appConfig.Orchestrator.UploadStrategy)
	if err != nil {
		return nil, fmt.Errorf("invalid upload strategy: %w", err)
	}

	h := &HTTPServer{
		logger:         logger,
		config:         appConfig,
		deps:           deps,
		metrics:        deps.Metrics,
		fileStrategy:   fileStrategy,
		uploadStrategy: uploadStrategy,
		origins:        make(map[string]bool),
		startTime:      time.Now(),
	}
	for _, origin := range appConfig.HTTP.CORSOrigins {
		if origin == "*" {
			h.anyOrigin = true
		}
		h.origins[origin] = true
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  16 * 1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         appConfig.HTTP.Addr(),
		Handler:      h.withCORS(mux),
		ReadTimeout:  appConfig.HTTP.GetReadTimeoutDuration(),
		WriteTimeout: appConfig.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  120 * time.Second,
	}

	return h, nil
}

// Handler returns the root handler, CORS included
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// routes lists every endpoint for the root document
var routes = map[string]string{
	"POST /api/process-audio":          "Transcribe and summarize a file (file_path or multipart file)",
	"POST /api/process-realtime-chunk": "Transcribe one short base64 pcm chunk",
	"GET /api/user-profile":            "Get the user profile",
	"POST /api/user-profile":           "Replace the user profile",
	"GET /api/system-info":             "Engine and backend health",
	"GET /health":                      "Service health check",
	"GET /stats":                       "Service statistics",
	"GET /streams":                     "List live real-time sessions",
	"GET /streams/{id}":                "Get one live session",
	"GET /config":                      "Sanitized service configuration",
	"GET /metrics":                     "Prometheus metrics",
	"GET /ws/audio":                    "Websocket for real-time audio",
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/process-audio", h.withMetrics("/api/process-audio", h.handleProcessAudio))
	mux.HandleFunc("/api/process-realtime-chunk", h.withMetrics("/api/process-realtime-chunk", h.handleRealtimeChunk))
	mux.HandleFunc("/api/user-profile", h.withMetrics("/api/user-profile", h.handleUserProfile))
	mux.HandleFunc("/api/system-info", h.withMetrics("/api/system-info", h.handleSystemInfo))

	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))
	mux.HandleFunc("/streams", h.withMetrics("/streams", h.handleStreams))
	mux.HandleFunc("/streams/", h.withMetrics("/streams/{id}", h.handleStreamDetail))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// The upgrade needs the raw ResponseWriter for hijacking
	mux.HandleFunc("/ws/audio", h.handleWebsocket)

	if h.deps.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime)
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration.Seconds())

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}

		h.logger.Info("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("status", ww.statusCode),
			slog.Duration("duration", duration),
		)
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

// withCORS answers preflight requests and tags responses for the browser extension
func (h *HTTPServer) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && h.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Set("Access-Control-Expose-Headers", "*")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPServer) originAllowed(origin string) bool {
	return h.anyOrigin || h.origins[origin]
}

func (h *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.originAllowed(origin)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server. Hijacked websocket connections
// are not tracked here; the stream manager closes those.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a {"detail": ...} body
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	components := map[string]interface{}{
		"stream_manager": map[string]interface{}{
			"status":          "running",
			"active_sessions": h.deps.Streams.GetActiveSessionCount(),
		},
	}
	if h.deps.Engine != nil {
		stats := h.deps.Engine.GetStats()
		components["transcription"] = map[string]interface{}{
			"engine":          stats.Name,
			"total_requests":  stats.TotalRequests,
			"success_rate":    stats.SuccessRate,
			"active_requests": stats.ActiveRequests,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"version":    Version,
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
		"components": components,
	})
}

// handleSystemInfo reports engine and backend reachability
func (h *HTTPServer) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	engineErr, backends := h.deps.Pipeline.Health(r.Context())
	engine := map[string]interface{}{
		"name":      h.deps.Pipeline.EngineName(),
		"available": engineErr == nil,
		"language":  h.deps.Pipeline.Language(),
	}
	if engineErr != nil {
		engine["error"] = engineErr.Error()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":      engine,
		"apis_status": backends,
		"version":     Version,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"vad":       h.deps.Speakers.GetStats(),
		"streams": map[string]interface{}{
			"active_count": h.deps.Streams.GetActiveSessionCount(),
		},
		"strategies": map[string]string{
			"file":   string(h.fileStrategy),
			"upload": string(h.uploadStrategy),
		},
	}
	if h.deps.Engine != nil {
		stats["transcription"] = h.deps.Engine.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	sessions := h.deps.Streams.GetAllSessions()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartTime.Before(sessions[j].StartTime) })

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_streams": len(sessions),
		"timestamp":     time.Now().UTC(),
		"streams":       sessions,
	})
}

// handleStreamDetail implements the /streams/{id} endpoint
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/streams/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Stream ID required")
		return
	}

	session, exists := h.deps.Streams.GetSession(id)
	if !exists {
		writeError(w, http.StatusNotFound, "Stream not found")
		return
	}

	writeJSON(w, http.StatusOK, session.GetSessionInfo())
}

// handleConfig returns the configuration without secrets
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	backends := make([]map[string]interface{}, 0, len(h.config.Backends))
	for _, b := range h.config.Backends {
		backends = append(backends, map[string]interface{}{
			"id":       b.ID,
			"provider": b.Provider,
			"base_url": b.BaseURL,
			"model":    b.Model,
			"timeout":  b.Timeout,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"http": map[string]interface{}{
			"address":       h.config.HTTP.Address,
			"port":          h.config.HTTP.Port,
			"max_upload_mb": h.config.HTTP.MaxUploadMB,
		},
		"audio": h.config.Audio,
		"asr": map[string]interface{}{
			"endpoint":       h.config.ASR.Endpoint,
			"model":          h.config.ASR.Model,
			"language":       h.config.ASR.Language,
			"timeout":        h.config.ASR.Timeout,
			"max_retries":    h.config.ASR.MaxRetries,
			"max_concurrent": h.config.ASR.MaxConcurrent,
		},
		"backends":     backends,
		"orchestrator": h.config.Orchestrator,
		"realtime":     h.config.Realtime,
		"summarizer":   h.config.Summarizer,
		"logging":      h.config.Logging,
	})
}

// handleRoot implements the / endpoint with the route list
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}

	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "Meeting Audio Service",
		"version":   Version,
		"endpoints": routes,
		"timestamp": time.Now().UTC(),
	})
}

// handleWebsocket upgrades the connection and hands it to the stream manager
func (h *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error
		h.metrics.RecordHTTPError(r.Method, "/ws/audio", "upgrade_failed")
		h.logger.Warn("Websocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}
	h.metrics.RecordHTTPRequest(r.Method, "/ws/audio", "101", 0)

	if err := h.deps.Streams.Serve(r.Context(), conn, r.RemoteAddr); err != nil {
		h.logger.Warn("Real-time session ended with error",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
	}
}
