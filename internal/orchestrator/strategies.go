package orchestrator

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
	"github.com/skypro1111/meeting-audio-service/internal/backend"
	"github.com/skypro1111/meeting-audio-service/internal/confidence"
	"github.com/skypro1111/meeting-audio-service/internal/transcription"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// twoModel transcribes once locally and asks both configured backends to
// improve the same text. The first non-empty success in submission order wins.
func (o *Orchestrator) twoModel(ctx context.Context, t *tracker, buf audio.Buffer) (*runResult, error) {
	local, err := o.transcribe(ctx, buf, transcription.OfflineOptions(o.config.Language))
	if err != nil {
		return nil, err
	}
	t.advance(StateLocalTranscribed)

	diagnostics := map[string]int{
		"whisperTextLength":         len(local),
		"llmImprovementsSuccessful": 0,
	}

	// Nothing to improve; go straight to the fallback list
	if local == "" {
		t.advance(StateCombined)
		return &runResult{
			selection:   firstProduced(),
			confidence:  confidence.DefaultScore,
			diagnostics: diagnostics,
		}, nil
	}

	ids := o.config.TwoModelBackends
	results := make([]backend.CallResult, len(ids))

	t.advance(StateBackendsDispatched)
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			results[i] = o.registry.Invoke(ctx, id, improvePrompt(local, o.config.Improve[i]), local)
			return nil
		})
	}
	// Branch failures are captured in results, never returned
	_ = g.Wait()
	t.advance(StateCombined)

	producers := make([]producer, 0, len(results)+1)
	var texts []string
	for _, r := range results {
		if r.OK() {
			diagnostics["llmImprovementsSuccessful"]++
			texts = append(texts, r.Text)
		} else {
			o.logger.Warn("Improvement discarded",
				slog.String("backend", r.BackendID),
				slog.String("error", r.Error),
			)
		}
		producers = append(producers, producer{tier: TierLLMImprovement, source: r.BackendID, produce: callText(r)})
	}
	producers = append(producers, producer{tier: TierLocalTranscript, source: o.engine.Name(), produce: fixed(local)})

	return &runResult{
		selection:   firstProduced(producers...),
		confidence:  confidence.Score(texts),
		diagnostics: diagnostics,
	}, nil
}

func callText(r backend.CallResult) func() (string, bool) {
	return func() (string, bool) { return r.Text, r.OK() }
}

// correctionText yields nothing when the correction was judged commentary
func correctionText(r backend.CallResult, commentary bool) func() (string, bool) {
	if commentary {
		return func() (string, bool) { return "", false }
	}
	return callText(r)
}

// chunkedFast transcribes fixed-duration chunks in parallel, reassembles them
// by index and applies one grammar-only correction
func (o *Orchestrator) chunkedFast(ctx context.Context, t *tracker, buf audio.Buffer) (*runResult, error) {
	chunks := audio.Split(buf, o.config.ChunkDurationSeconds, buf.SampleRate)
	if len(chunks) == 0 {
		// Shorter than one second: transcribe the whole buffer as chunk 0
		chunks = []audio.Chunk{{Samples: buf, Index: 0}}
	}
	for _, c := range chunks {
		o.metrics.RecordChunkGenerated(c.Duration())
	}

	texts := make([]string, len(chunks))
	errs := make([]error, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.MaxParallelChunks)
	for _, c := range chunks {
		g.Go(func() error {
			texts[c.Index], errs[c.Index] = o.transcribe(gctx, c.Samples, transcription.OfflineOptions(o.config.Language))
			return nil
		})
	}
	_ = g.Wait()

	successful, failed := 0, 0
	var firstErr error
	for i, err := range errs {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			o.logger.Warn("Chunk transcription failed",
				slog.Int("chunk", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		if texts[i] != "" {
			successful++
		}
	}
	if failed == len(chunks) {
		return nil, firstErr
	}
	t.advance(StateLocalTranscribed)

	raw := reassemble(texts)
	diagnostics := map[string]int{
		"audioChunks":             len(chunks),
		"whisperChunksSuccessful": successful,
		"correctionApplied":       0,
	}

	correction := backend.CallResult{}
	commentary := false
	if len(strings.TrimSpace(raw)) >= minCorrectionLength {
		t.advance(StateBackendsDispatched)
		correction = o.registry.Invoke(ctx, o.config.CorrectionBackend, correctionPrompt(raw, o.config.Correction), raw)
		if correction.OK() && o.leadIns.IsCommentary(correction.Text) {
			o.logger.Warn("Correction added commentary, keeping reassembled text",
				slog.String("backend", correction.BackendID),
			)
			commentary = true
		}
	}
	t.advance(StateCombined)

	sel := firstProduced(
		producer{tier: TierGrammarCorrection, source: correction.BackendID, produce: correctionText(correction, commentary)},
		producer{tier: TierReassembledRaw, source: o.engine.Name(), produce: fixed(raw)},
	)
	if sel.tier == TierGrammarCorrection {
		diagnostics["correctionApplied"] = 1
	}

	return &runResult{
		selection:   sel,
		confidence:  confidence.DefaultScore,
		diagnostics: diagnostics,
	}, nil
}

// reassemble joins chunk texts in index order with single spaces.
// Empty chunks are skipped.
func reassemble(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, text := range texts {
		if text != "" {
			parts = append(parts, text)
		}
	}
	return normalizeWhitespace(strings.Join(parts, " "))
}

// singleFast runs one greedy local pass with no remote correction
func (o *Orchestrator) singleFast(ctx context.Context, t *tracker, buf audio.Buffer) (*runResult, error) {
	local, err := o.transcribe(ctx, buf, transcription.GreedyOptions(o.config.Language))
	if err != nil {
		return nil, err
	}
	t.advance(StateLocalTranscribed)
	t.advance(StateCombined)

	return &runResult{
		selection:   firstProduced(producer{tier: TierLocalTranscript, source: o.engine.Name(), produce: fixed(local)}),
		confidence:  confidence.DefaultScore,
		diagnostics: map[string]int{"improvementsApplied": 0},
	}, nil
}

// realtimeRun transcribes a live chunk with realtime options and filters noise
func (o *Orchestrator) realtimeRun(ctx context.Context, t *tracker, buf audio.Buffer, language string) (*runResult, error) {
	if language == "" {
		language = o.config.Language
	}
	local, err := o.transcribe(ctx, buf, transcription.RealtimeOptions(language))
	if err != nil {
		return nil, err
	}
	t.advance(StateLocalTranscribed)
	t.advance(StateCombined)

	text, ok := o.realtime.Apply(local)
	o.metrics.RecordRealtimeChunk(!ok)
	if !ok {
		return &runResult{
			selection:   selection{tier: TierFiltered, source: o.engine.Name()},
			diagnostics: map[string]int{"filtered": 1},
		}, nil
	}
	return &runResult{
		selection:   selection{text: text, tier: TierLocalTranscript, source: o.engine.Name()},
		confidence:  RealtimeConfidence,
		diagnostics: map[string]int{"filtered": 0},
	}, nil
}
