package transcription

import (
	"context"
	"fmt"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
)

// Engine is a loaded speech recognition model shared read-only by all requests
type Engine interface {
	Transcribe(ctx context.Context, buf audio.Buffer, opts DecodeOptions) (*Result, error)
	Name() string
	Health(ctx context.Context) error
}

// DecodeOptions controls how the engine decodes one buffer
type DecodeOptions struct {
	Language                  string  `json:"language,omitempty"`
	Temperature               float32 `json:"temperature"`
	BeamSize                  int     `json:"beam_size"`
	BestOf                    int     `json:"best_of"`
	NoSpeechThreshold         float32 `json:"no_speech_threshold"`
	ConditionOnPreviousText   bool    `json:"condition_on_previous_text"`
	CompressionRatioThreshold float32 `json:"compression_ratio_threshold"`
	WordTimestamps            bool    `json:"word_timestamps"`
}

// OfflineOptions returns the balanced decoding settings used for whole recordings
func OfflineOptions(language string) DecodeOptions {
	return DecodeOptions{
		Language:                  language,
		Temperature:               0,
		BeamSize:                  5,
		BestOf:                    5,
		NoSpeechThreshold:         0.6,
		ConditionOnPreviousText:   true,
		CompressionRatioThreshold: 2.4,
	}
}

// GreedyOptions returns the most deterministic settings: greedy search at temperature 0
func GreedyOptions(language string) DecodeOptions {
	opts := OfflineOptions(language)
	opts.BeamSize = 1
	opts.BestOf = 1
	return opts
}

// RealtimeOptions returns greedy settings with a raised no-speech threshold so
// silent chunks do not produce hallucinated text
func RealtimeOptions(language string) DecodeOptions {
	return DecodeOptions{
		Language:                  language,
		Temperature:               0,
		BeamSize:                  1,
		BestOf:                    1,
		NoSpeechThreshold:         0.6,
		ConditionOnPreviousText:   false,
		CompressionRatioThreshold: 2.4,
		WordTimestamps:            false,
	}
}

// Result represents the engine output for one buffer
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Duration float64   `json:"duration"`
}

// Segment represents a segment of transcribed text
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// LocalEngineError reports a failed call to the local engine.
// It is fatal for the request that issued it.
type LocalEngineError struct {
	Op  string
	Err error
}

func (e *LocalEngineError) Error() string {
	return fmt.Sprintf("local transcription %s failed: %v", e.Op, e.Err)
}

func (e *LocalEngineError) Unwrap() error {
	return e.Err
}
