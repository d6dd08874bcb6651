package vad

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
)

const (
	// DefaultFrameLength is the analysis frame size in samples
	DefaultFrameLength = 1024
	// DefaultHopLength gives 50% overlap with DefaultFrameLength
	DefaultHopLength = 512
	// VoicedPercentile is the energy percentile a frame must exceed to count as voiced
	VoicedPercentile = 50.0
)

// Detector classifies frames as voiced by comparing normalized frame energy
// against the median energy of the same call
type Detector struct {
	frameLength int
	hopLength   int

	// Statistics
	totalFrames   uint64
	voicedFrames  uint64
	lastProcessed time.Time

	mu sync.Mutex
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	FrameLength     int       `json:"frame_length"`
	HopLength       int       `json:"hop_length"`
	TotalFrames     uint64    `json:"total_frames"`
	VoicedFrames    uint64    `json:"voiced_frames"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
}

// NewDetector creates a new voice activity detector
func NewDetector(frameLength, hopLength int) (*Detector, error) {
	if frameLength <= 0 {
		return nil, fmt.Errorf("frame length must be positive, got %d", frameLength)
	}
	if hopLength <= 0 || hopLength > frameLength {
		return nil, fmt.Errorf("hop length must be in (0, %d], got %d", frameLength, hopLength)
	}
	return &Detector{frameLength: frameLength, hopLength: hopLength}, nil
}

// NewDefaultDetector creates a detector with 1024-sample frames and 50% overlap
func NewDefaultDetector() *Detector {
	return &Detector{frameLength: DefaultFrameLength, hopLength: DefaultHopLength}
}

// FrameEnergies returns the min-max normalized energy of every full frame
func (d *Detector) FrameEnergies(buf audio.Buffer) []float64 {
	n := buf.FrameCount(d.frameLength, d.hopLength)
	if n == 0 {
		return nil
	}

	energies := make([]float64, n)
	minE, maxE := 0.0, 0.0
	for i := 0; i < n; i++ {
		frame, _ := buf.Frame(i, d.frameLength, d.hopLength)
		var e float64
		for _, s := range frame {
			e += float64(s) * float64(s)
		}
		energies[i] = e
		if i == 0 || e < minE {
			minE = e
		}
		if i == 0 || e > maxE {
			maxE = e
		}
	}

	span := maxE - minE + 1e-10
	for i := range energies {
		energies[i] = (energies[i] - minE) / span
	}
	return energies
}

// Detect returns a voiced flag for every full frame of the buffer.
// The threshold is recomputed per call, so the same audio can classify
// differently alone and inside a longer buffer.
func (d *Detector) Detect(buf audio.Buffer) []bool {
	energies := d.FrameEnergies(buf)
	if len(energies) == 0 {
		return nil
	}

	threshold := Percentile(energies, VoicedPercentile)
	voiced := make([]bool, len(energies))
	var count uint64
	for i, e := range energies {
		if e > threshold {
			voiced[i] = true
			count++
		}
	}

	d.mu.Lock()
	d.totalFrames += uint64(len(energies))
	d.voicedFrames += count
	d.lastProcessed = time.Now()
	d.mu.Unlock()

	return voiced
}

// VoicedFraction returns the share of voiced frames, and false when the
// buffer holds no full frame
func (d *Detector) VoicedFraction(buf audio.Buffer) (float64, bool) {
	voiced := d.Detect(buf)
	if len(voiced) == 0 {
		return 0, false
	}
	count := 0
	for _, v := range voiced {
		if v {
			count++
		}
	}
	return float64(count) / float64(len(voiced)), true
}

// GetStats returns detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var pct float64
	if d.totalFrames > 0 {
		pct = float64(d.voicedFrames) / float64(d.totalFrames) * 100
	}
	return DetectorStats{
		FrameLength:     d.frameLength,
		HopLength:       d.hopLength,
		TotalFrames:     d.totalFrames,
		VoicedFrames:    d.voicedFrames,
		VoicePercentage: pct,
		LastProcessed:   d.lastProcessed,
	}
}

// Percentile returns the p-th percentile of values using linear interpolation
// between closest ranks
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*frac
}
