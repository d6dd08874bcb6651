package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// WAVHeader represents the canonical 44-byte header written for mono PCM-16 output
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

const (
	wavFormatPCM        = 1
	wavFormatIEEEFloat  = 3
	wavFormatExtensible = 0xFFFE
)

// WAVInfo describes the fmt chunk of a decoded WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	AudioFormat   uint16  `json:"audio_format"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// EncodeWAV encodes a mono buffer into 16-bit PCM WAV
func EncodeWAV(buf Buffer) ([]byte, error) {
	if buf.Len() == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	if buf.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", buf.SampleRate)
	}

	samples := buf.ToInt16()
	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   numChannels,
		SampleRate:    uint32(buf.SampleRate),
		ByteRate:      uint32(buf.SampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	out := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))
	if err := binary.Write(out, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	if err := binary.Write(out, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	return out.Bytes(), nil
}

// DecodeWAV decodes a WAV file into interleaved float samples.
// Chunks other than "fmt " and "data" are skipped. PCM 8/16/24/32-bit and
// 32/64-bit IEEE float payloads are supported.
func DecodeWAV(data []byte) (Buffer, error) {
	info, payload, err := parseWAV(data)
	if err != nil {
		return Buffer{}, err
	}

	bytesPerSample := int(info.BitsPerSample) / 8
	frameSize := bytesPerSample * int(info.Channels)
	numFrames := len(payload) / frameSize
	if numFrames == 0 {
		return Buffer{}, fmt.Errorf("no audio data found")
	}

	samples := make([]float32, numFrames*int(info.Channels))
	for i := range samples {
		off := i * bytesPerSample
		samples[i] = decodeSample(payload[off:off+bytesPerSample], info.AudioFormat, info.BitsPerSample)
	}

	return Buffer{
		Samples:    samples,
		SampleRate: int(info.SampleRate),
		Channels:   int(info.Channels),
	}, nil
}

// GetWAVInfo extracts metadata from a WAV file without converting samples
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	info, _, err := parseWAV(data)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func parseWAV(data []byte) (*WAVInfo, []byte, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var info *WAVInfo
	var payload []byte
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) || size < 0 {
			// Streamed writers leave the data size unset, take what is there
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk too short")
			}
			f := data[body:end]
			info = &WAVInfo{
				AudioFormat:   binary.LittleEndian.Uint16(f[0:2]),
				Channels:      binary.LittleEndian.Uint16(f[2:4]),
				SampleRate:    binary.LittleEndian.Uint32(f[4:8]),
				BitsPerSample: binary.LittleEndian.Uint16(f[14:16]),
			}
			if info.AudioFormat == wavFormatExtensible && len(f) >= 26 {
				info.AudioFormat = binary.LittleEndian.Uint16(f[24:26])
			}
		case "data":
			payload = data[body:end]
		}

		// Chunks are word aligned
		pos = end + size%2
		if payload != nil && info != nil {
			break
		}
	}

	if info == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if payload == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}
	if err := validateFormat(info); err != nil {
		return nil, nil, err
	}

	frameSize := uint32(info.BitsPerSample/8) * uint32(info.Channels)
	info.DataSize = uint32(len(payload))
	info.NumFrames = info.DataSize / frameSize
	info.Duration = float64(info.NumFrames) / float64(info.SampleRate)
	return info, payload, nil
}

func validateFormat(info *WAVInfo) error {
	if info.Channels == 0 {
		return fmt.Errorf("invalid channel count: 0")
	}
	if info.SampleRate == 0 {
		return fmt.Errorf("invalid sample rate: 0")
	}
	switch info.AudioFormat {
	case wavFormatPCM:
		switch info.BitsPerSample {
		case 8, 16, 24, 32:
			return nil
		}
	case wavFormatIEEEFloat:
		switch info.BitsPerSample {
		case 32, 64:
			return nil
		}
	default:
		return fmt.Errorf("unsupported audio format: %d", info.AudioFormat)
	}
	return fmt.Errorf("unsupported bit depth: %d", info.BitsPerSample)
}

func decodeSample(b []byte, format, bits uint16) float32 {
	if format == wavFormatIEEEFloat {
		if bits == 64 {
			return float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}

	switch bits {
	case 8:
		// 8-bit PCM is unsigned
		return (float32(b[0]) - 128) / 128
	case 16:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(int8(b[2]))<<16
		return float32(v) / 8388608
	default:
		return float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	}
}
