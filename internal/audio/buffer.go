package audio

import (
	"fmt"
	"time"
)

// TargetSampleRate is the only sample rate used downstream of ingress
const TargetSampleRate = 16000

// Accepted input sample rates for raw PCM
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

// Buffer represents an ordered sequence of float PCM samples in [-1, 1]
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// NewBuffer creates a mono buffer at the given sample rate
func NewBuffer(samples []float32, sampleRate int) Buffer {
	return Buffer{
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   1,
	}
}

// Len returns the number of samples in the buffer
func (b Buffer) Len() int {
	return len(b.Samples)
}

// Duration returns the playback duration of the buffer
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// IsNormalized reports whether the buffer is mono at the target rate
func (b Buffer) IsNormalized() bool {
	return b.Channels == 1 && b.SampleRate == TargetSampleRate
}

// FrameCount returns the number of full frames of frameSize samples advanced by hop
func (b Buffer) FrameCount(frameSize, hop int) int {
	if frameSize <= 0 || hop <= 0 || len(b.Samples) <= frameSize {
		return 0
	}
	return (len(b.Samples)-frameSize-1)/hop + 1
}

// Frame returns the i-th frame of frameSize samples advanced by hop
func (b Buffer) Frame(i, frameSize, hop int) ([]float32, error) {
	start := i * hop
	end := start + frameSize
	if i < 0 || end > len(b.Samples) {
		return nil, fmt.Errorf("frame %d out of range: need %d samples, have %d", i, end, len(b.Samples))
	}
	return b.Samples[start:end], nil
}

// Slice returns a copy of samples in [start, end) as a new buffer
func (b Buffer) Slice(start, end int) Buffer {
	if start < 0 {
		start = 0
	}
	if end > len(b.Samples) {
		end = len(b.Samples)
	}
	if start > end {
		start = end
	}
	samples := make([]float32, end-start)
	copy(samples, b.Samples[start:end])
	return Buffer{Samples: samples, SampleRate: b.SampleRate, Channels: b.Channels}
}

// ToInt16 converts the float samples back to clipped PCM-16
func (b Buffer) ToInt16() []int16 {
	out := make([]int16, len(b.Samples))
	for i, s := range b.Samples {
		v := float64(s) * 32768.0
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}
