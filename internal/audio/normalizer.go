package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"

	"github.com/mewkiz/flac"
)

// DecodeError reports audio that could not be read or decoded
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode audio from %s: %v", e.Source, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrFFmpegUnavailable is returned when a container needs ffmpeg and none is installed
var ErrFFmpegUnavailable = errors.New("ffmpeg not found in PATH")

// NormalizerConfig contains audio normalizer configuration
type NormalizerConfig struct {
	FFmpegPath string // Empty means look up "ffmpeg" in PATH
}

// Normalizer decodes arbitrary audio into mono 16 kHz float buffers
type Normalizer struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewNormalizer creates a new audio normalizer
func NewNormalizer(cfg NormalizerConfig, logger *slog.Logger) *Normalizer {
	path := cfg.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	return &Normalizer{ffmpegPath: path, logger: logger}
}

// Load reads an audio file and returns the normalized buffer and the source sample rate
func (n *Normalizer) Load(ctx context.Context, path string) (Buffer, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, 0, &DecodeError{Source: path, Err: err}
	}

	format := sniffFormat(data)
	if format == "" {
		format = "file"
	}

	buf, sourceRate, err := n.decode(ctx, data, format, TargetSampleRate)
	if err != nil {
		return Buffer{}, 0, &DecodeError{Source: path, Err: err}
	}

	n.logger.Info("Loaded audio",
		slog.String("path", path),
		slog.String("format", format),
		slog.Int("samples", buf.Len()),
		slog.Int("source_sample_rate", sourceRate),
		slog.Duration("duration", buf.Duration()),
	)

	return buf, sourceRate, nil
}

// DecodeContainer decodes in-memory audio bytes of a declared container format.
// sampleRate only applies to headerless "pcm", "pcm16" and "raw" payloads.
func (n *Normalizer) DecodeContainer(ctx context.Context, data []byte, format string, sampleRate int) (Buffer, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if sniffed := sniffFormat(data); sniffed != "" && format != "pcm" && format != "pcm16" && format != "raw" {
		format = sniffed
	}

	buf, _, err := n.decode(ctx, data, format, sampleRate)
	if err != nil {
		return Buffer{}, &DecodeError{Source: format + " payload", Err: err}
	}
	return buf, nil
}

func (n *Normalizer) decode(ctx context.Context, data []byte, format string, sampleRate int) (Buffer, int, error) {
	switch format {
	case "pcm", "pcm16", "raw", "":
		buf, err := NormalizeChunk(data, sampleRate)
		return buf, sampleRate, err
	case "wav":
		return decodeWAVBuffer(data)
	case "flac":
		return decodeFLAC(data)
	default:
		buf, err := n.transcode(ctx, data)
		return buf, TargetSampleRate, err
	}
}

// transcode pipes any other container through ffmpeg into 16 kHz mono WAV
func (n *Normalizer) transcode(ctx context.Context, data []byte) (Buffer, error) {
	path, err := exec.LookPath(n.ffmpegPath)
	if err != nil {
		return Buffer{}, ErrFFmpegUnavailable
	}

	// ffmpeg -i pipe:0 -ac 1 -ar 16000 -f wav pipe:1
	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ac", "1", "-ar", fmt.Sprintf("%d", TargetSampleRate),
		"-f", "wav", "pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Buffer{}, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	buf, _, err := decodeWAVBuffer(stdout.Bytes())
	return buf, err
}

// sniffFormat detects a container from its magic bytes
func sniffFormat(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return "wav"
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return "flac"
	default:
		return ""
	}
}

// NormalizeChunk converts little-endian PCM-16 bytes to a normalized 16 kHz buffer.
// Resampling is skipped entirely when the input is already at the target rate.
func NormalizeChunk(raw []byte, sampleRate int) (Buffer, error) {
	if len(raw)%2 != 0 {
		return Buffer{}, &DecodeError{
			Source: "pcm chunk",
			Err:    fmt.Errorf("audio data length must be even (got %d bytes)", len(raw)),
		}
	}
	if err := CheckSampleRate(sampleRate); err != nil {
		return Buffer{}, &DecodeError{Source: "pcm chunk", Err: err}
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[i*2:]))) / 32768.0
	}

	if sampleRate != TargetSampleRate {
		samples = Resample(samples, sampleRate, TargetSampleRate)
	}
	return NewBuffer(samples, TargetSampleRate), nil
}

// NormalizeSamples converts already-decoded PCM-16 samples to a normalized 16 kHz buffer
func NormalizeSamples(pcm []int16, sampleRate int) (Buffer, error) {
	if err := CheckSampleRate(sampleRate); err != nil {
		return Buffer{}, &DecodeError{Source: "pcm samples", Err: err}
	}

	samples := make([]float32, len(pcm))
	for i, s := range pcm {
		samples[i] = float32(s) / 32768.0
	}
	if sampleRate != TargetSampleRate {
		samples = Resample(samples, sampleRate, TargetSampleRate)
	}
	return NewBuffer(samples, TargetSampleRate), nil
}

// CheckSampleRate rejects rates outside [MinSampleRate, MaxSampleRate]
func CheckSampleRate(rate int) error {
	if rate < MinSampleRate || rate > MaxSampleRate {
		return fmt.Errorf("sample rate %d outside supported range %d-%d", rate, MinSampleRate, MaxSampleRate)
	}
	return nil
}

// Resample converts samples between rates using linear interpolation.
// The output length is round(len * to / from).
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	outLen := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	out := make([]float32, outLen)
	if outLen == 0 {
		return out
	}
	if outLen == 1 || len(samples) == 1 {
		for i := range out {
			out[i] = samples[0]
		}
		return out
	}

	// Output sample i maps onto the input span [0, len-1] evenly
	step := float64(len(samples)-1) / float64(outLen-1)
	for i := range out {
		pos := float64(i) * step
		left := int(pos)
		if left >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(pos - float64(left))
		out[i] = samples[left]*(1-frac) + samples[left+1]*frac
	}
	return out
}

// downmix averages interleaved channels into a single mono channel
func downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	mono := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}

// decodeWAVBuffer decodes a WAV file and normalizes it to mono 16 kHz
func decodeWAVBuffer(data []byte) (Buffer, int, error) {
	pcm, err := DecodeWAV(data)
	if err != nil {
		return Buffer{}, 0, err
	}
	mono := downmix(pcm.Samples, pcm.Channels)
	if pcm.SampleRate != TargetSampleRate {
		mono = Resample(mono, pcm.SampleRate, TargetSampleRate)
	}
	return NewBuffer(mono, TargetSampleRate), pcm.SampleRate, nil
}

// decodeFLAC decodes a FLAC stream frame by frame and normalizes it to mono 16 kHz
func decodeFLAC(data []byte) (Buffer, int, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return Buffer{}, 0, fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	sampleRate := int(stream.Info.SampleRate)
	channels := int(stream.Info.NChannels)
	scale := float32(math.Pow(2, float64(stream.Info.BitsPerSample-1)))
	if sampleRate <= 0 || channels <= 0 {
		return Buffer{}, 0, fmt.Errorf("invalid flac stream info: rate=%d channels=%d", sampleRate, channels)
	}

	mono := make([]float32, 0, stream.Info.NSamples)
	for {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Buffer{}, 0, fmt.Errorf("failed to parse flac frame: %w", err)
		}

		n := int(frame.BlockSize)
		for i := 0; i < n; i++ {
			var sum float32
			for c := 0; c < channels; c++ {
				sum += float32(frame.Subframes[c].Samples[i]) / scale
			}
			mono = append(mono, sum/float32(channels))
		}
	}

	if len(mono) == 0 {
		return Buffer{}, 0, fmt.Errorf("no audio data found")
	}
	if sampleRate != TargetSampleRate {
		mono = Resample(mono, sampleRate, TargetSampleRate)
	}
	return NewBuffer(mono, TargetSampleRate), sampleRate, nil
}
