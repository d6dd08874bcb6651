package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
	"github.com/skypro1111/meeting-audio-service/internal/backend"
	"github.com/skypro1111/meeting-audio-service/internal/config"
	"github.com/skypro1111/meeting-audio-service/internal/filter"
	"github.com/skypro1111/meeting-audio-service/internal/metrics"
	"github.com/skypro1111/meeting-audio-service/internal/orchestrator"
	"github.com/skypro1111/meeting-audio-service/internal/profile"
	"github.com/skypro1111/meeting-audio-service/internal/server"
	"github.com/skypro1111/meeting-audio-service/internal/stream"
	"github.com/skypro1111/meeting-audio-service/internal/summary"
	"github.com/skypro1111/meeting-audio-service/internal/transcription"
	"github.com/skypro1111/meeting-audio-service/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "meeting-audio-service"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", server.Version),
		slog.String("config_path", *configPath),
	)

	// Configuration summary, secrets omitted
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.HTTP.Addr()),
		slog.String("asr_endpoint", cfg.ASR.Endpoint),
		slog.String("asr_language", cfg.ASR.Language),
		slog.Int("backends", len(cfg.Backends)),
		slog.Any("two_model_backends", cfg.Orchestrator.TwoModelBackends),
		slog.String("correction_backend", cfg.Orchestrator.CorrectionBackend),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.String("profile_path", cfg.Profile.Path),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	registry, err := newRegistry(cfg, logger, appMetrics)
	if err != nil {
		return err
	}

	engine, err := transcription.NewClient(transcription.Config{
		Endpoint:       cfg.ASR.Endpoint,
		HealthEndpoint: cfg.ASR.HealthEndpoint,
		Model:          cfg.ASR.Model,
		APIKey:         cfg.ASR.APIKey,
		Timeout:        cfg.ASR.GetTimeoutDuration(),
		MaxRetries:     cfg.ASR.MaxRetries,
		RetryBackoff:   cfg.ASR.GetRetryBackoffDuration(),
		MaxConcurrent:  cfg.ASR.MaxConcurrent,
	})
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}
	defer engine.Close()
	logger.Info("Transcription client initialized",
		slog.String("engine", engine.Name()),
		slog.String("endpoint", cfg.ASR.Endpoint),
	)

	fillers := cfg.Realtime.Fillers
	if len(fillers) == 0 {
		fillers = filter.DefaultFillers
	}
	minLength := cfg.Realtime.MinTextLength
	if minLength <= 0 {
		minLength = filter.DefaultMinLength
	}
	leadIns := cfg.Realtime.LeadIns
	if len(leadIns) == 0 {
		leadIns = filter.DefaultLeadIns
	}

	pipeline, err := orchestrator.New(orchestrator.Config{
		Language:             cfg.ASR.Language,
		TwoModelBackends:     cfg.Orchestrator.TwoModelBackends,
		CorrectionBackend:    cfg.Orchestrator.CorrectionBackend,
		ChunkDurationSeconds: cfg.Audio.ChunkDuration,
		MaxParallelChunks:    cfg.Audio.MaxParallelChunks,
		Improve:              cfg.Orchestrator.Improve,
		Correction:           cfg.Orchestrator.Correction,
	}, engine, registry,
		filter.NewRealtimeFilter(fillers, minLength), filter.NewLeadInGuard(leadIns),
		logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	normalizer := audio.NewNormalizer(audio.NormalizerConfig{FFmpegPath: cfg.Audio.FFmpegPath}, logger)

	summarizer, err := summary.NewSummarizer(summary.Config{
		Backend:     cfg.Summarizer.Backend,
		MaxTokens:   cfg.Summarizer.MaxTokens,
		Temperature: cfg.Summarizer.Temperature,
	}, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to create summarizer: %w", err)
	}

	profiles, err := profile.NewStore(cfg.Profile.Path)
	if err != nil {
		return fmt.Errorf("failed to open profile store: %w", err)
	}

	streams, err := stream.NewManager(logger, stream.ManagerConfig{
		IdleTimeout:     cfg.Realtime.GetIdleTimeoutDuration(),
		CleanupInterval: cfg.Realtime.GetCleanupIntervalDuration(),
		ChunkTimeout:    cfg.Realtime.GetChunkTimeoutDuration(),
		DefaultLanguage: cfg.ASR.Language,
	}, pipeline, normalizer, profile.NewService(profiles, logger), appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create stream manager: %w", err)
	}
	defer streams.Stop()

	httpServer, err := server.NewHTTPServer(cfg, logger, server.Dependencies{
		Pipeline:   pipeline,
		Loader:     normalizer,
		Speakers:   vad.NewDefaultDetector(),
		Summarizer: summarizer,
		Profiles:   profiles,
		Streams:    streams,
		Engine:     engine,
		Gatherer:   prometheus.DefaultGatherer,
		Metrics:    appMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", cfg.HTTP.Addr()),
	)

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeoutDuration())
	defer cancel()
	if err := httpServer.Stop(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	stats := engine.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
		slog.Duration("avg_response_time", stats.AvgResponseTime),
	)
	return nil
}

// newRegistry builds one OpenAI-compatible backend per configured entry
func newRegistry(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*backend.Registry, error) {
	backends := make([]backend.Backend, 0, len(cfg.Backends))
	timeouts := make(map[string]time.Duration, len(cfg.Backends))

	for _, bc := range cfg.Backends {
		b, err := backend.NewOpenAIBackend(backend.OpenAIConfig{
			ID:       bc.ID,
			Provider: bc.Provider,
			BaseURL:  bc.BaseURL,
			Model:    bc.Model,
			APIKey:   bc.APIKey,
			Headers:  bc.Headers,
			Timeout:  bc.GetTimeoutDuration(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create backend %s: %w", bc.ID, err)
		}
		backends = append(backends, b)
		if bc.Timeout > 0 {
			timeouts[bc.ID] = bc.GetTimeoutDuration()
		}
		logger.Info("Backend registered",
			slog.String("id", bc.ID),
			slog.String("provider", bc.Provider),
			slog.String("model", bc.Model),
		)
	}

	registry, err := backend.NewRegistry(backend.RegistryConfig{
		DefaultTimeout: cfg.Orchestrator.GetDefaultBackendTimeoutDuration(),
		Timeouts:       timeouts,
		HealthTimeout:  cfg.Orchestrator.GetHealthTimeoutDuration(),
	}, logger, m, backends...)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend registry: %w", err)
	}
	return registry, nil
}

// initLogger creates the structured logger described by cfg
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
