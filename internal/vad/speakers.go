package vad

import (
	"math"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
)

// EstimateMethod tells how a speaker estimate was derived
type EstimateMethod string

const (
	MethodFastEstimate EstimateMethod = "fast_estimation"
	MethodFallback     EstimateMethod = "fallback"
)

// SpeakerEstimate is a derived speaker count, never persisted
type SpeakerEstimate struct {
	SpeakerCount int            `json:"speaker_count"`
	Method       EstimateMethod `json:"method"`
}

// SpeakerCountForFraction maps a voiced-frame fraction to a speaker count.
// Above the single-speaker band the count grows in thirds of the voiced
// fraction and is capped at three.
func SpeakerCountForFraction(v float64) int {
	switch {
	case v < 0.10:
		return 0
	case v < 0.30:
		return 1
	default:
		n := int(math.Round(v * 3))
		if n < 1 {
			n = 1
		}
		if n > 3 {
			n = 3
		}
		return n
	}
}

// EstimateSpeakers guesses the number of speakers from the voiced ratio.
// Buffers too short to analyze yield one speaker with the fallback method.
func (d *Detector) EstimateSpeakers(buf audio.Buffer) SpeakerEstimate {
	v, ok := d.VoicedFraction(buf)
	if !ok {
		return SpeakerEstimate{SpeakerCount: 1, Method: MethodFallback}
	}
	return SpeakerEstimate{SpeakerCount: SpeakerCountForFraction(v), Method: MethodFastEstimate}
}
