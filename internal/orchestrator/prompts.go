package orchestrator

import "github.com/skypro1111/meeting-audio-service/internal/backend"

const (
	improveSystemPrompt = "Improve this transcription for clarity and accuracy. Fix any errors and make it more natural."

	correctionSystemPrompt = "You are a transcription corrector. Fix ONLY grammar, punctuation, and obvious typos. " +
		"Do NOT rewrite, summarize, or change the meaning. Return ONLY the corrected transcription with no extra commentary."
	correctionUserPrefix = "Fix grammar and punctuation only:\n\n"

	// minCorrectionLength is the shortest reassembled text worth a correction call
	minCorrectionLength = 10

	// PlaceholderText is surfaced when no producer yielded any text
	PlaceholderText = "Transcription failed: no text was produced"

	// RealtimeConfidence is reported for every surfaced real-time transcript
	RealtimeConfidence = 0.8
)

// PromptSettings holds the generation limits of one backend role
type PromptSettings struct {
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
}

func improvePrompt(text string, s PromptSettings) backend.Prompt {
	return backend.Prompt{
		System:      improveSystemPrompt,
		User:        text,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	}
}

func correctionPrompt(text string, s PromptSettings) backend.Prompt {
	return backend.Prompt{
		System:      correctionSystemPrompt,
		User:        correctionUserPrefix + text,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	}
}
