package audio

import "math"

// MinChunkSeconds is the shortest trailing chunk kept by Split
const MinChunkSeconds = 1.0

// Chunk represents a fixed-duration slice of a buffer ready for transcription.
// Index defines reassembly order, not completion order.
type Chunk struct {
	Samples            Buffer  `json:"-"`
	Index              int     `json:"index"`
	StartOffsetSeconds float64 `json:"start_offset_seconds"`
}

// Duration returns the chunk length in seconds
func (c Chunk) Duration() float64 {
	if c.Samples.SampleRate <= 0 {
		return 0
	}
	return float64(c.Samples.Len()) / float64(c.Samples.SampleRate)
}

// Split cuts a buffer into non-overlapping windows of chunkDurationSeconds.
// A trailing window shorter than one second of sampleRate samples is dropped.
func Split(buf Buffer, chunkDurationSeconds float64, sampleRate int) []Chunk {
	if chunkDurationSeconds <= 0 || sampleRate <= 0 || buf.Len() == 0 {
		return nil
	}

	chunkSamples := int(math.Round(chunkDurationSeconds * float64(sampleRate)))
	if chunkSamples <= 0 {
		return nil
	}
	minSamples := int(MinChunkSeconds * float64(sampleRate))

	chunks := make([]Chunk, 0, buf.Len()/chunkSamples+1)
	for start := 0; start < buf.Len(); start += chunkSamples {
		end := start + chunkSamples
		if end > buf.Len() {
			end = buf.Len()
		}
		if end-start < minSamples {
			break
		}

		index := len(chunks)
		chunks = append(chunks, Chunk{
			Samples:            buf.Slice(start, end),
			Index:              index,
			StartOffsetSeconds: float64(index) * chunkDurationSeconds,
		})
	}
	return chunks
}
