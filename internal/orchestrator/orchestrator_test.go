package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
	"github.com/skypro1111/meeting-audio-service/internal/backend"
	"github.com/skypro1111/meeting-audio-service/internal/filter"
	"github.com/skypro1111/meeting-audio-service/internal/metrics"
	"github.com/skypro1111/meeting-audio-service/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine answers by the marker value in the first sample of a buffer
type fakeEngine struct {
	mu      sync.Mutex
	texts   map[int]string
	fail    map[int]bool
	delays  map[int]time.Duration
	calls   int
	options []transcription.DecodeOptions
}

func marker(buf audio.Buffer) int {
	if buf.Len() == 0 {
		return -1
	}
	return int(buf.Samples[0]*100 + 0.5)
}

func (f *fakeEngine) Transcribe(ctx context.Context, buf audio.Buffer, opts transcription.DecodeOptions) (*transcription.Result, error) {
	m := marker(buf)

	f.mu.Lock()
	f.calls++
	f.options = append(f.options, opts)
	text, failed, delay := f.texts[m], f.fail[m], f.delays[m]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failed {
		return nil, &transcription.LocalEngineError{Op: "transcribe", Err: errors.New("model crashed")}
	}
	return &transcription.Result{Text: text}, nil
}

func (f *fakeEngine) Name() string                     { return "fake-whisper" }
func (f *fakeEngine) Health(ctx context.Context) error { return nil }

// fakeBackend is a concurrency-safe in-memory backend
type fakeBackend struct {
	id    string
	text  string
	err   error
	delay time.Duration

	mu      sync.Mutex
	prompts []backend.Prompt
}

func (b *fakeBackend) ID() string       { return b.id }
func (b *fakeBackend) Provider() string { return "fake" }

func (b *fakeBackend) Complete(ctx context.Context, prompt backend.Prompt) (string, error) {
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.mu.Unlock()
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.text, b.err
}

func (b *fakeBackend) ListModels(ctx context.Context) error { return nil }

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.prompts)
}

// markedBuffer builds a buffer of seconds of audio whose every chunkSeconds
// window carries the marker of its index
func markedBuffer(seconds, chunkSeconds int) audio.Buffer {
	sr := audio.TargetSampleRate
	samples := make([]float32, seconds*sr)
	for i := range samples {
		idx := i / (chunkSeconds * sr)
		samples[i] = float32(idx) / 100
	}
	return audio.NewBuffer(samples, sr)
}

type harness struct {
	engine  *fakeEngine
	a, b    *fakeBackend
	orch    *Orchestrator
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, engine *fakeEngine, a, b *fakeBackend) *harness {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	reg, err := backend.NewRegistry(backend.RegistryConfig{DefaultTimeout: 200 * time.Millisecond}, testLogger(), m, a, b)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	orch, err := New(Config{
		Language:             "en",
		TwoModelBackends:     []string{a.id, b.id},
		CorrectionBackend:    a.id,
		ChunkDurationSeconds: 20,
		MaxParallelChunks:    3,
	}, engine, reg, filter.NewDefaultRealtimeFilter(), filter.NewLeadInGuard(filter.DefaultLeadIns), testLogger(), m)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &harness{engine: engine, a: a, b: b, orch: orch, metrics: m}
}

func TestNewValidatesBackends(t *testing.T) {
	a := &fakeBackend{id: "a"}
	reg, _ := backend.NewRegistry(backend.RegistryConfig{}, testLogger(), nil, a)
	engine := &fakeEngine{}

	cases := []Config{
		{TwoModelBackends: []string{"a"}, CorrectionBackend: "a"},
		{TwoModelBackends: []string{"a", "missing"}, CorrectionBackend: "a"},
		{TwoModelBackends: []string{"a", "a"}, CorrectionBackend: "a"},
	}
	for i, cfg := range cases {
		if _, err := New(cfg, engine, reg, nil, nil, testLogger(), nil); err == nil {
			t.Errorf("Case %d: expected error", i)
		}
	}
}

func TestTwoModelFirstSuccessInSubmissionOrder(t *testing.T) {
	// B answers first, A answers later; A still wins
	engine := &fakeEngine{texts: map[int]string{0: "raw local text"}}
	h := newHarness(t, engine,
		&fakeBackend{id: "a", text: "text from a", delay: 50 * time.Millisecond},
		&fakeBackend{id: "b", text: "text from b"},
	)

	out, err := h.orch.Process(context.Background(), StrategyTwoModel, markedBuffer(5, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Text != "text from a" || out.Tier != TierLLMImprovement || out.Source != "a" {
		t.Errorf("Unexpected outcome: %+v", out)
	}
	if out.Diagnostics["llmImprovementsSuccessful"] != 2 {
		t.Errorf("Expected 2 improvements, got %d", out.Diagnostics["llmImprovementsSuccessful"])
	}
	if out.Diagnostics["whisperTextLength"] != len("raw local text") {
		t.Errorf("Unexpected whisper length %d", out.Diagnostics["whisperTextLength"])
	}
	if len(h.a.prompts) != 1 || h.a.prompts[0].User != "raw local text" || h.a.prompts[0].System != improveSystemPrompt {
		t.Errorf("Unexpected prompt sent to a: %+v", h.a.prompts)
	}

	want := []State{StateIngested, StateLocalTranscribed, StateBackendsDispatched, StateCombined, StateDone}
	if !equalStates(out.States, want) {
		t.Errorf("Expected states %v, got %v", want, out.States)
	}
}

func TestTwoModelBackendAFails(t *testing.T) {
	engine := &fakeEngine{texts: map[int]string{0: "raw local text"}}
	h := newHarness(t, engine,
		&fakeBackend{id: "a", err: errors.New("503 upstream")},
		&fakeBackend{id: "b", text: "fixed text"},
	)

	out, err := h.orch.Process(context.Background(), StrategyTwoModel, markedBuffer(5, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Text != "fixed text" {
		t.Errorf("Expected fixed text, got %q", out.Text)
	}
	if out.Diagnostics["llmImprovementsSuccessful"] != 1 {
		t.Errorf("Expected 1 improvement, got %d", out.Diagnostics["llmImprovementsSuccessful"])
	}
	if out.Confidence != 0.5 {
		t.Errorf("Expected default confidence with one text, got %f", out.Confidence)
	}
}

func TestTwoModelAllBackendsFail(t *testing.T) {
	engine := &fakeEngine{texts: map[int]string{0: "raw local text"}}
	h := newHarness(t, engine,
		&fakeBackend{id: "a", err: errors.New("401")},
		&fakeBackend{id: "b", delay: time.Second, text: "too late"}, // exceeds registry timeout
	)

	out, err := h.orch.Process(context.Background(), StrategyTwoModel, markedBuffer(5, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Text != "raw local text" || out.Tier != TierLocalTranscript {
		t.Errorf("Expected local transcript fallback, got %+v", out)
	}
	if out.Diagnostics["llmImprovementsSuccessful"] != 0 {
		t.Errorf("Expected 0 improvements, got %d", out.Diagnostics["llmImprovementsSuccessful"])
	}
}

func TestTwoModelEmptyLocalTextYieldsPlaceholder(t *testing.T) {
	engine := &fakeEngine{texts: map[int]string{0: "   "}}
	h := newHarness(t, engine, &fakeBackend{id: "a", text: "x"}, &fakeBackend{id: "b", text: "y"})

	out, err := h.orch.Process(context.Background(), StrategyTwoModel, markedBuffer(5, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Tier != TierPlaceholder || out.Text != PlaceholderText {
		t.Errorf("Expected placeholder, got %+v", out)
	}
	if h.a.callCount() != 0 || h.b.callCount() != 0 {
		t.Error("Backends must not be called without local text")
	}
	if got := testutil.ToFloat64(h.metrics.OrchestrationRuns.WithLabelValues("two_model", "placeholder")); got != 1 {
		t.Errorf("Expected placeholder run metric, got %f", got)
	}
}

func TestTwoModelIdenticalResultsFullConfidence(t *testing.T) {
	engine := &fakeEngine{texts: map[int]string{0: "raw"}}
	h := newHarness(t, engine, &fakeBackend{id: "a", text: "Same words here"}, &fakeBackend{id: "b", text: "same words HERE"})

	out, err := h.orch.Process(context.Background(), StrategyTwoModel, markedBuffer(5, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Confidence != 1.0 {
		t.Errorf("Expected confidence 1.0, got %f", out.Confidence)
	}
}

func TestLocalFailureIsFatal(t *testing.T) {
	for _, strategy := range []Strategy{StrategyTwoModel, StrategySingleFast, StrategyChunkedFast} {
		t.Run(string(strategy), func(t *testing.T) {
			engine := &fakeEngine{fail: map[int]bool{0: true, 1: true, 2: true}}
			h := newHarness(t, engine, &fakeBackend{id: "a", text: "x"}, &fakeBackend{id: "b", text: "y"})

			out, err := h.orch.Process(context.Background(), strategy, markedBuffer(45, 20))
			var engineErr *transcription.LocalEngineError
			if !errors.As(err, &engineErr) {
				t.Fatalf("Expected LocalEngineError, got %v", err)
			}
			if out != nil {
				t.Error("Expected no outcome")
			}
			if h.a.callCount() != 0 || h.b.callCount() != 0 {
				t.Error("Backends must not be called after a local failure")
			}
		})
	}
}

func TestChunkedFastReassemblesInIndexOrder(t *testing.T) {
	// Chunk 0 finishes last, chunk 2 first
	engine := &fakeEngine{
		texts:  map[int]string{0: " first  part ", 1: "second\tpart", 2: "third part"},
		delays: map[int]time.Duration{0: 60 * time.Millisecond, 1: 30 * time.Millisecond},
	}
	correction := &fakeBackend{id: "a", text: "First part, second part, third part."}
	h := newHarness(t, engine, correction, &fakeBackend{id: "b"})

	out, err := h.orch.Process(context.Background(), StrategyChunkedFast, markedBuffer(45, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if out.Diagnostics["audioChunks"] != 3 || out.Diagnostics["whisperChunksSuccessful"] != 3 {
		t.Errorf("Unexpected diagnostics: %v", out.Diagnostics)
	}
	if len(correction.prompts) != 1 {
		t.Fatalf("Expected exactly one correction call, got %d", len(correction.prompts))
	}
	wantUser := correctionUserPrefix + "first part second part third part"
	if correction.prompts[0].User != wantUser {
		t.Errorf("Expected reassembled prompt %q, got %q", wantUser, correction.prompts[0].User)
	}
	if out.Text != "First part, second part, third part." || out.Tier != TierGrammarCorrection {
		t.Errorf("Unexpected outcome: %+v", out)
	}
	if out.Diagnostics["correctionApplied"] != 1 {
		t.Error("Expected correction to be applied")
	}
	if h.b.callCount() != 0 {
		t.Error("Only the correction backend may be called")
	}
}

func TestChunkedFastDiscardsCommentary(t *testing.T) {
	engine := &fakeEngine{texts: map[int]string{0: "we agreed", 1: "on the budget"}}
	h := newHarness(t, engine, &fakeBackend{id: "a", text: "Here is the corrected text: We agreed on the budget."}, &fakeBackend{id: "b"})

	out, err := h.orch.Process(context.Background(), StrategyChunkedFast, markedBuffer(40, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Text != "we agreed on the budget" || out.Tier != TierReassembledRaw {
		t.Errorf("Expected reassembled raw text, got %+v", out)
	}
	if out.Diagnostics["correctionApplied"] != 0 {
		t.Error("Commentary must not count as a correction")
	}
}

func TestCorrectionTextLeavesResultIntact(t *testing.T) {
	r := backend.CallResult{BackendID: "a", Text: "Here is the corrected text: hi.", Success: true}

	if text, ok := correctionText(r, true)(); ok || text != "" {
		t.Errorf("Commentary should produce nothing, got %q %v", text, ok)
	}
	if r.Text != "Here is the corrected text: hi." {
		t.Errorf("Call result was modified: %q", r.Text)
	}
	if text, ok := correctionText(r, false)(); !ok || text != r.Text {
		t.Errorf("Expected correction text, got %q %v", text, ok)
	}
}

func TestChunkedFastSkipsCorrectionForShortText(t *testing.T) {
	engine := &fakeEngine{texts: map[int]string{0: "hi all"}}
	h := newHarness(t, engine, &fakeBackend{id: "a", text: "Hi all."}, &fakeBackend{id: "b"})

	out, err := h.orch.Process(context.Background(), StrategyChunkedFast, markedBuffer(5, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if h.a.callCount() != 0 {
		t.Error("Correction must be skipped below 10 characters")
	}
	if out.Text != "hi all" {
		t.Errorf("Unexpected text %q", out.Text)
	}
	want := []State{StateIngested, StateLocalTranscribed, StateCombined, StateDone}
	if !equalStates(out.States, want) {
		t.Errorf("Expected states %v, got %v", want, out.States)
	}
}

func TestChunkedFastPartialChunkFailure(t *testing.T) {
	engine := &fakeEngine{
		texts: map[int]string{0: "alpha", 2: "gamma"},
		fail:  map[int]bool{1: true},
	}
	h := newHarness(t, engine, &fakeBackend{id: "a", err: errors.New("timeout")}, &fakeBackend{id: "b"})

	out, err := h.orch.Process(context.Background(), StrategyChunkedFast, markedBuffer(45, 20))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Text != "alpha gamma" || out.Tier != TierReassembledRaw {
		t.Errorf("Unexpected outcome: %+v", out)
	}
	if out.Diagnostics["whisperChunksSuccessful"] != 2 {
		t.Errorf("Expected 2 successful chunks, got %d", out.Diagnostics["whisperChunksSuccessful"])
	}
}

func TestChunkedFastSubSecondBuffer(t *testing.T) {
	engine := &fakeEngine{texts: map[int]string{0: "short clip here"}}
	h := newHarness(t, engine, &fakeBackend{id: "a", text: "Short clip here."}, &fakeBackend{id: "b"})

	buf := audio.NewBuffer(make([]float32, audio.TargetSampleRate/2), audio.TargetSampleRate)
	out, err := h.orch.Process(context.Background(), StrategyChunkedFast, buf)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Diagnostics["audioChunks"] != 1 || engine.calls != 1 {
		t.Errorf("Expected whole buffer as one chunk, got %v", out.Diagnostics)
	}
}

func TestChunkedFastOrderStableAcrossRuns(t *testing.T) {
	var first string
	for run := 0; run < 5; run++ {
		engine := &fakeEngine{
			texts:  map[int]string{0: "zero", 1: "one", 2: "two"},
			delays: map[int]time.Duration{run % 3: 20 * time.Millisecond},
		}
		h := newHarness(t, engine, &fakeBackend{id: "a", err: errors.New("down")}, &fakeBackend{id: "b"})

		out, err := h.orch.Process(context.Background(), StrategyChunkedFast, markedBuffer(45, 20))
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
		if run == 0 {
			first = out.Text
		} else if out.Text != first {
			t.Errorf("Run %d produced %q, want %q", run, out.Text, first)
		}
	}
	if first != "zero one two" {
		t.Errorf("Unexpected reassembly %q", first)
	}
}

func TestSingleFast(t *testing.T) {
	engine := &fakeEngine{texts: map[int]string{0: "quick pass"}}
	h := newHarness(t, engine, &fakeBackend{id: "a", text: "x"}, &fakeBackend{id: "b", text: "y"})

	out, err := h.orch.Process(context.Background(), StrategySingleFast, markedBuffer(30, 60))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Text != "quick pass" || out.Tier != TierLocalTranscript {
		t.Errorf("Unexpected outcome: %+v", out)
	}
	if out.Diagnostics["improvementsApplied"] != 0 || out.Diagnostics["transcriptionLength"] != len("quick pass") {
		t.Errorf("Unexpected diagnostics: %v", out.Diagnostics)
	}
	if h.a.callCount()+h.b.callCount() != 0 {
		t.Error("Single fast must not call backends")
	}
	opts := engine.options[0]
	if opts.BeamSize != 1 || opts.Temperature != 0 {
		t.Errorf("Expected greedy decoding, got %+v", opts)
	}
}

func TestProcessRealtime(t *testing.T) {
	tests := []struct {
		local       string
		wantText    string
		wantConf    float64
		wantSpeaker bool
	}{
		{"um", "", 0, false},
		{".", "", 0, false},
		{"", "", 0, false},
		{"ok yeah", "", 0, false},
		{"the budget review is tomorrow", "the budget review is tomorrow", 0.8, true},
	}

	for _, tt := range tests {
		t.Run(tt.local, func(t *testing.T) {
			engine := &fakeEngine{texts: map[int]string{0: tt.local}}
			h := newHarness(t, engine, &fakeBackend{id: "a", text: "x"}, &fakeBackend{id: "b", text: "y"})

			res, err := h.orch.ProcessRealtime(context.Background(), markedBuffer(1, 20), "")
			if err != nil {
				t.Fatalf("ProcessRealtime failed: %v", err)
			}
			if res.Text != tt.wantText || res.Confidence != tt.wantConf {
				t.Errorf("Got (%q, %f), want (%q, %f)", res.Text, res.Confidence, tt.wantText, tt.wantConf)
			}
			if tt.wantSpeaker {
				if res.SpeakerID == nil || *res.SpeakerID != 0 {
					t.Errorf("Expected speaker 0, got %v", res.SpeakerID)
				}
			} else if res.SpeakerID != nil {
				t.Errorf("Expected nil speaker, got %d", *res.SpeakerID)
			}
			if h.a.callCount()+h.b.callCount() != 0 {
				t.Error("Realtime path must not call backends")
			}

			opts := engine.options[0]
			if opts.NoSpeechThreshold != 0.6 || opts.BeamSize != 1 || opts.ConditionOnPreviousText || opts.Language != "en" {
				t.Errorf("Unexpected realtime options: %+v", opts)
			}
		})
	}
}

func TestProcessRejectsUnnormalizedBuffer(t *testing.T) {
	h := newHarness(t, &fakeEngine{}, &fakeBackend{id: "a"}, &fakeBackend{id: "b"})
	_, err := h.orch.Process(context.Background(), StrategySingleFast, audio.NewBuffer(make([]float32, 100), 8000))
	if !errors.Is(err, ErrNotNormalized) {
		t.Errorf("Expected ErrNotNormalized, got %v", err)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := map[string]Strategy{
		"two_model":          StrategyTwoModel,
		"2_model_parallel":   StrategyTwoModel,
		"ultra_fast_chunked": StrategyChunkedFast,
		"ULTRA_FAST_V3":      StrategySingleFast,
		" realtime ":         StrategyRealtime,
	}
	for in, want := range tests {
		got, err := ParseStrategy(in)
		if err != nil || got != want {
			t.Errorf("ParseStrategy(%q) = (%s, %v), want %s", in, got, err, want)
		}
	}
	if _, err := ParseStrategy("best_effort"); err == nil {
		t.Error("Expected error for unknown strategy")
	}
}

func TestTrackerPanicsOnIllegalTransition(t *testing.T) {
	defer func() {
		if r := recover(); r == nil || !strings.Contains(r.(string), "illegal state transition") {
			t.Errorf("Expected illegal transition panic, got %v", r)
		}
	}()
	tr := newTracker()
	tr.advance(StateDone)
}

func TestFirstProducedPlaceholder(t *testing.T) {
	sel := firstProduced(producer{tier: TierLocalTranscript, produce: fixed("")})
	if sel.tier != TierPlaceholder || !errors.Is(sel.err, ErrCombinationEmpty) {
		t.Errorf("Expected placeholder selection, got %+v", sel)
	}
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
