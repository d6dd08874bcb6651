package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
	"github.com/skypro1111/meeting-audio-service/internal/backend"
	"github.com/skypro1111/meeting-audio-service/internal/filter"
	"github.com/skypro1111/meeting-audio-service/internal/metrics"
	"github.com/skypro1111/meeting-audio-service/internal/transcription"
)

// ErrNotNormalized is returned for buffers that skipped ingress normalization
var ErrNotNormalized = errors.New("buffer is not mono 16 kHz")

// Config contains orchestrator configuration
type Config struct {
	Language             string
	TwoModelBackends     []string // Exactly two, in submission order
	CorrectionBackend    string
	ChunkDurationSeconds float64
	MaxParallelChunks    int
	Improve              []PromptSettings // Indexed like TwoModelBackends
	Correction           PromptSettings
}

// Outcome is the immutable result of one orchestration call
type Outcome struct {
	Text                  string         `json:"transcription"`
	ProcessingTimeSeconds float64        `json:"processing_time"`
	Strategy              Strategy       `json:"strategy"`
	Tier                  Tier           `json:"tier"`
	Source                string         `json:"source"`
	Confidence            float64        `json:"confidence"`
	Diagnostics           map[string]int `json:"diagnostics"`
	States                []State        `json:"states"`
}

// RealtimeResult is the result of one real-time chunk. SpeakerID is nil when
// the chunk was filtered as noise.
type RealtimeResult struct {
	Text       string  `json:"transcription"`
	Confidence float64 `json:"confidence"`
	SpeakerID  *int    `json:"speaker_id"`
}

// Orchestrator runs transcription strategies over a shared engine and registry
type Orchestrator struct {
	config   Config
	engine   transcription.Engine
	registry *backend.Registry
	realtime *filter.RealtimeFilter
	leadIns  *filter.LeadInGuard
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a new orchestrator
func New(config Config, engine transcription.Engine, registry *backend.Registry,
	realtime *filter.RealtimeFilter, leadIns *filter.LeadInGuard,
	logger *slog.Logger, m *metrics.Metrics) (*Orchestrator, error) {

	if engine == nil {
		return nil, fmt.Errorf("transcription engine cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("backend registry cannot be nil")
	}
	if len(config.TwoModelBackends) != 2 {
		return nil, fmt.Errorf("two-model strategy needs exactly 2 backends, got %d", len(config.TwoModelBackends))
	}
	for _, id := range config.TwoModelBackends {
		if !registry.Has(id) {
			return nil, fmt.Errorf("two-model backend %q is not registered", id)
		}
	}
	if config.TwoModelBackends[0] == config.TwoModelBackends[1] {
		return nil, fmt.Errorf("two-model backends must differ")
	}
	if !registry.Has(config.CorrectionBackend) {
		return nil, fmt.Errorf("correction backend %q is not registered", config.CorrectionBackend)
	}
	if len(config.Improve) == 0 {
		config.Improve = []PromptSettings{
			{MaxTokens: 600, Temperature: 0.1},
			{MaxTokens: 1000, Temperature: 0.3},
		}
	}
	if len(config.Improve) != len(config.TwoModelBackends) {
		return nil, fmt.Errorf("improve settings must match the two-model backends")
	}

	if config.ChunkDurationSeconds <= 0 {
		config.ChunkDurationSeconds = 20
	}
	if config.MaxParallelChunks <= 0 {
		config.MaxParallelChunks = 4
	}
	if config.Correction.MaxTokens <= 0 {
		config.Correction = PromptSettings{MaxTokens: 2000, Temperature: 0.1}
	}
	if realtime == nil {
		realtime = filter.NewDefaultRealtimeFilter()
	}
	if leadIns == nil {
		leadIns = filter.NewLeadInGuard(filter.DefaultLeadIns)
	}

	return &Orchestrator{
		config:   config,
		engine:   engine,
		registry: registry,
		realtime: realtime,
		leadIns:  leadIns,
		logger:   logger,
		metrics:  m,
	}, nil
}

// Process runs one strategy over a normalized buffer. A local engine failure
// is returned as *transcription.LocalEngineError and no text is produced.
func (o *Orchestrator) Process(ctx context.Context, strategy Strategy, buf audio.Buffer) (*Outcome, error) {
	if !buf.IsNormalized() {
		return nil, ErrNotNormalized
	}

	start := time.Now()
	t := newTracker()

	var (
		run *runResult
		err error
	)
	switch strategy {
	case StrategyTwoModel:
		run, err = o.twoModel(ctx, t, buf)
	case StrategyChunkedFast:
		run, err = o.chunkedFast(ctx, t, buf)
	case StrategySingleFast:
		run, err = o.singleFast(ctx, t, buf)
	case StrategyRealtime:
		run, err = o.realtimeRun(ctx, t, buf, o.config.Language)
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}

	elapsed := time.Since(start)
	if err != nil {
		if t.current() == StateIngested {
			t.advance(StateFailedLocal)
		}
		o.metrics.RecordOrchestrationFailure(string(strategy), elapsed)
		o.logger.Error("Orchestration failed",
			slog.String("strategy", string(strategy)),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	t.advance(StateDone)
	run.diagnostics["transcriptionLength"] = len(run.selection.text)

	outcome := &Outcome{
		Text:                  run.selection.text,
		ProcessingTimeSeconds: elapsed.Seconds(),
		Strategy:              strategy,
		Tier:                  run.selection.tier,
		Source:                run.selection.source,
		Confidence:            run.confidence,
		Diagnostics:           run.diagnostics,
		States:                t.history(),
	}

	o.metrics.RecordOrchestration(string(strategy), string(outcome.Tier), elapsed)
	o.logger.Info("Orchestration completed",
		slog.String("strategy", string(strategy)),
		slog.String("tier", string(outcome.Tier)),
		slog.String("source", outcome.Source),
		slog.Int("length", len(outcome.Text)),
		slog.Float64("confidence", outcome.Confidence),
		slog.Duration("duration", elapsed),
	)
	if errors.Is(run.selection.err, ErrCombinationEmpty) {
		o.logger.Warn("No producer yielded text, returning placeholder",
			slog.String("strategy", string(strategy)),
		)
	}

	return outcome, nil
}

// runResult is what a strategy hands back to Process
type runResult struct {
	selection   selection
	confidence  float64
	diagnostics map[string]int
}

// transcribe runs the local engine once and records the call
func (o *Orchestrator) transcribe(ctx context.Context, buf audio.Buffer, opts transcription.DecodeOptions) (string, error) {
	start := time.Now()
	result, err := o.engine.Transcribe(ctx, buf, opts)
	o.metrics.RecordTranscription(err == nil, time.Since(start))
	if err != nil {
		var engineErr *transcription.LocalEngineError
		if !errors.As(err, &engineErr) {
			err = &transcription.LocalEngineError{Op: "transcribe", Err: err}
		}
		return "", err
	}
	return normalizeWhitespace(result.Text), nil
}

// ProcessRealtime runs the latency-optimized path for one live chunk.
// Remote backends are never called.
func (o *Orchestrator) ProcessRealtime(ctx context.Context, buf audio.Buffer, language string) (RealtimeResult, error) {
	if !buf.IsNormalized() {
		return RealtimeResult{}, ErrNotNormalized
	}
	run, err := o.realtimeRun(ctx, newTracker(), buf, language)
	if err != nil {
		return RealtimeResult{}, err
	}
	if run.selection.tier == TierFiltered {
		return RealtimeResult{}, nil
	}
	speaker := 0
	return RealtimeResult{Text: run.selection.text, Confidence: run.confidence, SpeakerID: &speaker}, nil
}

// Health reports engine and backend health for diagnostics
func (o *Orchestrator) Health(ctx context.Context) (engineErr error, backends map[string]bool) {
	return o.engine.Health(ctx), o.registry.HealthCheckAll(ctx)
}

// EngineName returns the name of the local engine
func (o *Orchestrator) EngineName() string {
	return o.engine.Name()
}

// Language returns the default decoding language
func (o *Orchestrator) Language() string {
	return o.config.Language
}
