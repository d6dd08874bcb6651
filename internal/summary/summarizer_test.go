package summary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/skypro1111/meeting-audio-service/internal/backend"
)

type fakeBackend struct {
	id    string
	reply string
	err   error
	seen  backend.Prompt
	calls int
}

func (f *fakeBackend) ID() string       { return f.id }
func (f *fakeBackend) Provider() string { return "fake" }

func (f *fakeBackend) Complete(ctx context.Context, prompt backend.Prompt) (string, error) {
	f.calls++
	f.seen = prompt
	return f.reply, f.err
}

func (f *fakeBackend) ListModels(ctx context.Context) error { return nil }

func newTestSummarizer(t *testing.T, b *fakeBackend) *Summarizer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := backend.NewRegistry(backend.RegistryConfig{}, logger, nil, b)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	s, err := NewSummarizer(Config{Backend: b.id}, reg, logger)
	if err != nil {
		t.Fatalf("NewSummarizer failed: %v", err)
	}
	return s
}

const transcript = "We agreed to ship the release on Friday and Taras will update the changelog."

func TestSummaryTooShort(t *testing.T) {
	b := &fakeBackend{id: "groq", reply: "{}"}
	s := newTestSummarizer(t, b)

	report, source := s.generate(context.Background(), "  hi  ")
	if source != SourceTooShort {
		t.Errorf("expected too short source, got %s", source)
	}
	if report.FullSummary != "Text too short for comprehensive analysis" || len(report.KeyPoints) != 0 {
		t.Errorf("unexpected report: %+v", report)
	}
	if b.calls != 0 {
		t.Errorf("backend must not be called for short text, got %d calls", b.calls)
	}
}

func TestSummaryParsesFencedJSON(t *testing.T) {
	b := &fakeBackend{id: "groq", reply: "```json\n{\"full_summary\":\"Release planning.\",\"key_points\":[\"Friday release\"],\"action_items\":[\"Update changelog\"],\"conclusion\":\"Ship it.\"}\n```"}
	s := newTestSummarizer(t, b)

	report, source := s.generate(context.Background(), transcript)
	if source != SourceBackend {
		t.Fatalf("expected backend source, got %s", source)
	}
	if report.FullSummary != "Release planning." || report.Conclusion != "Ship it." {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.KeyPoints) != 1 || report.ActionItems[0] != "Update changelog" {
		t.Errorf("unexpected lists: %+v", report)
	}
	if !strings.Contains(b.seen.User, transcript) || b.seen.MaxTokens != 1500 {
		t.Errorf("unexpected prompt: %+v", b.seen)
	}
}

func TestSummaryMissingListsBecomeEmpty(t *testing.T) {
	b := &fakeBackend{id: "groq", reply: `{"full_summary":"Short sync.","conclusion":"Done."}`}
	s := newTestSummarizer(t, b)

	report := s.GenerateComprehensiveSummary(context.Background(), transcript)
	if report.KeyPoints == nil || report.ActionItems == nil {
		t.Errorf("expected non-nil lists, got %+v", report)
	}
}

func TestSummaryFallsBackToExtraction(t *testing.T) {
	reply := strings.Join([]string{
		"Summary:",
		"The team planned the Friday release in detail.",
		"Key points:",
		"- Release scheduled for Friday",
		"- ok",
		"Action items:",
		"* Taras updates the changelog",
		"Conclusion:",
		"The release is on track for the end of the week.",
	}, "\n")
	b := &fakeBackend{id: "groq", reply: reply}
	s := newTestSummarizer(t, b)

	report, source := s.generate(context.Background(), transcript)
	if source != SourceExtracted {
		t.Fatalf("expected extraction source, got %s", source)
	}
	if report.FullSummary != "The team planned the Friday release in detail." {
		t.Errorf("unexpected summary %q", report.FullSummary)
	}
	if len(report.KeyPoints) != 1 || report.KeyPoints[0] != "Release scheduled for Friday" {
		t.Errorf("unexpected key points %v", report.KeyPoints)
	}
	if len(report.ActionItems) != 1 || report.ActionItems[0] != "Taras updates the changelog" {
		t.Errorf("unexpected action items %v", report.ActionItems)
	}
	if report.Conclusion != "The release is on track for the end of the week." {
		t.Errorf("unexpected conclusion %q", report.Conclusion)
	}
}

func TestSummaryFallbackOnBackendFailure(t *testing.T) {
	b := &fakeBackend{id: "groq", err: errors.New("rate limited")}
	s := newTestSummarizer(t, b)

	report, source := s.generate(context.Background(), transcript)
	if source != SourceFallback {
		t.Fatalf("expected fallback source, got %s", source)
	}
	words := len(strings.Fields(transcript))
	if !strings.Contains(report.FullSummary, "approximately 14 words") || words != 14 {
		t.Errorf("unexpected fallback summary %q (words=%d)", report.FullSummary, words)
	}
	if !strings.Contains(report.FullSummary, transcript) {
		t.Error("expected transcript in fallback summary")
	}
	if len(report.KeyPoints) != 3 || len(report.ActionItems) != 2 {
		t.Errorf("unexpected fallback lists: %+v", report)
	}
}

func TestSummaryWithoutBackend(t *testing.T) {
	s, err := NewSummarizer(Config{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSummarizer failed: %v", err)
	}
	if _, source := s.generate(context.Background(), transcript); source != SourceFallback {
		t.Errorf("expected fallback without backend, got %s", source)
	}
}

func TestNewSummarizerUnknownBackend(t *testing.T) {
	if _, err := NewSummarizer(Config{Backend: "missing"}, nil, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Error("expected error for unregistered backend")
	}
}

func TestFallbackTruncatesLongText(t *testing.T) {
	long := strings.Repeat("word ", 200)
	report := fallbackReport(long)
	if !strings.HasSuffix(report.FullSummary, "...") {
		t.Error("expected truncated fallback summary")
	}
}
