package summary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/skypro1111/meeting-audio-service/internal/backend"
)

// MinTextLength is the shortest transcript worth summarizing
const MinTextLength = 10

const systemPrompt = "You are an expert meeting analyst. Provide structured, actionable insights from meeting transcriptions in valid JSON format."

const userPromptTemplate = `Analyze this meeting transcription and return a JSON object with exactly these fields:

full_summary: A detailed summary of the meeting (200-300 words)
key_points: Array of 3-5 main topics discussed
action_items: Array of specific action items mentioned
conclusion: Overall conclusion and next steps (100-150 words)

Return ONLY valid JSON like this example:
{
  "full_summary": "The meeting covered...",
  "key_points": ["Topic 1", "Topic 2"],
  "action_items": ["Action 1", "Action 2"],
  "conclusion": "In conclusion..."
}

TRANSCRIPTION:
%s`

// Report is a structured meeting analysis
type Report struct {
	FullSummary string   `json:"full_summary"`
	KeyPoints   []string `json:"key_points"`
	ActionItems []string `json:"action_items"`
	Conclusion  string   `json:"conclusion"`
}

// Source records which stage produced a report
type Source string

const (
	SourceTooShort  Source = "too_short"
	SourceBackend   Source = "backend_json"
	SourceExtracted Source = "text_extraction"
	SourceFallback  Source = "fallback"
)

// Config configures the summarizer
type Config struct {
	Backend     string // registry id; empty disables remote summaries
	MaxTokens   int
	Temperature float32
}

// Summarizer builds reports through a backend registry
type Summarizer struct {
	config   Config
	registry *backend.Registry
	logger   *slog.Logger
}

// NewSummarizer creates a summarizer. The configured backend must be registered.
func NewSummarizer(config Config, registry *backend.Registry, logger *slog.Logger) (*Summarizer, error) {
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1500
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.Backend != "" && (registry == nil || !registry.Has(config.Backend)) {
		return nil, fmt.Errorf("summarizer backend %q is not registered", config.Backend)
	}

	return &Summarizer{config: config, registry: registry, logger: logger}, nil
}

// GenerateComprehensiveSummary analyzes text. It never fails; degraded
// inputs and backend failures yield fallback reports.
func (s *Summarizer) GenerateComprehensiveSummary(ctx context.Context, text string) Report {
	report, _ := s.generate(ctx, text)
	return report
}

func (s *Summarizer) generate(ctx context.Context, text string) (Report, Source) {
	if len(strings.TrimSpace(text)) < MinTextLength {
		return tooShortReport(), SourceTooShort
	}

	if s.config.Backend == "" {
		return fallbackReport(text), SourceFallback
	}

	start := time.Now()
	result := s.registry.Invoke(ctx, s.config.Backend, backend.Prompt{
		System:      systemPrompt,
		User:        fmt.Sprintf(userPromptTemplate, text),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}, text)

	if !result.OK() {
		s.logger.Error("Comprehensive summarization failed",
			slog.String("backend", s.config.Backend),
			slog.String("error", result.Error),
			slog.Duration("duration", time.Since(start)),
		)
		return fallbackReport(text), SourceFallback
	}

	cleaned := stripCodeFence(result.Text)
	report, err := parseReport(cleaned)
	if err != nil {
		s.logger.Warn("Summary JSON parsing failed, extracting sections from text",
			slog.String("backend", s.config.Backend),
			slog.String("error", err.Error()),
		)
		return extractFromText(cleaned), SourceExtracted
	}

	s.logger.Info("Comprehensive summary generated",
		slog.String("backend", s.config.Backend),
		slog.Int("key_points", len(report.KeyPoints)),
		slog.Int("action_items", len(report.ActionItems)),
		slog.Duration("duration", time.Since(start)),
	)
	return report, SourceBackend
}

// stripCodeFence removes a surrounding ``` or ```json fence
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func parseReport(text string) (Report, error) {
	var report Report
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return Report{}, fmt.Errorf("failed to parse summary JSON: %w", err)
	}
	if report.KeyPoints == nil {
		report.KeyPoints = []string{}
	}
	if report.ActionItems == nil {
		report.ActionItems = []string{}
	}
	return report, nil
}

func tooShortReport() Report {
	return Report{
		FullSummary: "Text too short for comprehensive analysis",
		KeyPoints:   []string{},
		ActionItems: []string{},
		Conclusion:  "Insufficient content for analysis",
	}
}

// fallbackReport is built from the transcript alone
func fallbackReport(text string) Report {
	wordCount := len(strings.Fields(text))
	return Report{
		FullSummary: fmt.Sprintf("Meeting transcription captured with approximately %d words. The discussion covered: %s", wordCount, truncate(text, 300)),
		KeyPoints: []string{
			"Main discussion topics were addressed",
			"Participants shared their perspectives",
			"Various points were covered during the meeting",
		},
		ActionItems: []string{
			"Review meeting outcomes and decisions",
			"Follow up on discussed items and responsibilities",
		},
		Conclusion: fmt.Sprintf("The meeting covered the intended topics. With %d words transcribed, next steps should focus on implementing the discussed points and following up on identified action items.", wordCount),
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
