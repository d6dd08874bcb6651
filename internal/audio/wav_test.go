package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func sineBuffer(sampleRate int, seconds float64, freq float64) Buffer {
	n := int(float64(sampleRate) * seconds)
	samples := make([]float32, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*freq*t))
	}
	return NewBuffer(samples, sampleRate)
}

func TestEncodeWAV(t *testing.T) {
	buf := sineBuffer(8000, 0.1, 440)

	wavData, err := EncodeWAV(buf)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// WAV header should be 44 bytes
	expectedSize := 44 + buf.Len()*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != 8000 {
		t.Errorf("Expected sample rate 8000, got %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if int(info.NumFrames) != buf.Len() {
		t.Errorf("Expected %d frames, got %d", buf.Len(), info.NumFrames)
	}
}

func TestEncodeWAVErrors(t *testing.T) {
	if _, err := EncodeWAV(Buffer{}); err == nil {
		t.Error("Expected error for empty buffer")
	}
	if _, err := EncodeWAV(Buffer{Samples: []float32{0.1}, SampleRate: 0}); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	buf := sineBuffer(16000, 0.05, 300)

	wavData, err := EncodeWAV(buf)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decoded.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", decoded.SampleRate)
	}
	if decoded.Len() != buf.Len() {
		t.Fatalf("Expected %d samples, got %d", buf.Len(), decoded.Len())
	}
	for i := range buf.Samples {
		if diff := math.Abs(float64(buf.Samples[i] - decoded.Samples[i])); diff > 1.0/16384 {
			t.Fatalf("Sample %d differs by %f", i, diff)
		}
	}
}

// buildWAV writes a WAV file with an extra LIST chunk before the data chunk
func buildWAV(t *testing.T, format, channels uint16, rate uint32, bits uint16, payload []byte) []byte {
	t.Helper()

	var b bytes.Buffer
	write := func(v any) {
		if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	list := []byte("INFOtest")
	b.WriteString("RIFF")
	write(uint32(4 + 8 + 16 + 8 + len(list) + 8 + len(payload)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	write(uint32(16))
	write(format)
	write(channels)
	write(rate)
	write(rate * uint32(channels) * uint32(bits) / 8)
	write(channels * bits / 8)
	write(bits)
	b.WriteString("LIST")
	write(uint32(len(list)))
	b.Write(list)
	b.WriteString("data")
	write(uint32(len(payload)))
	b.Write(payload)
	return b.Bytes()
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint16(payload[0:], uint16(16384))
	binary.LittleEndian.PutUint16(payload[2:], uint16(0xC000)) // -16384

	data := buildWAV(t, wavFormatPCM, 1, 22050, 16, payload)
	buf, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if buf.Len() != 4 {
		t.Fatalf("Expected 4 samples, got %d", buf.Len())
	}
	if buf.Samples[0] != 0.5 || buf.Samples[1] != -0.5 {
		t.Errorf("Unexpected samples: %v", buf.Samples[:2])
	}
	if buf.SampleRate != 22050 {
		t.Errorf("Expected sample rate 22050, got %d", buf.SampleRate)
	}
}

func TestDecodeWAVFormats(t *testing.T) {
	tests := []struct {
		name    string
		format  uint16
		bits    uint16
		payload []byte
		want    float32
	}{
		{"pcm8", wavFormatPCM, 8, []byte{192}, 0.5},
		{"pcm24", wavFormatPCM, 24, []byte{0x00, 0x00, 0x40}, 0.5},
		{"pcm32", wavFormatPCM, 32, []byte{0x00, 0x00, 0x00, 0x40}, 0.5},
		{"float32", wavFormatIEEEFloat, 32, func() []byte {
			b := make([]byte, 4)
			binary.LittleEndian.PutUint32(b, math.Float32bits(0.5))
			return b
		}(), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := DecodeWAV(buildWAV(t, tt.format, 1, 16000, tt.bits, tt.payload))
			if err != nil {
				t.Fatalf("DecodeWAV failed: %v", err)
			}
			if buf.Len() != 1 {
				t.Fatalf("Expected 1 sample, got %d", buf.Len())
			}
			if math.Abs(float64(buf.Samples[0]-tt.want)) > 1e-6 {
				t.Errorf("Expected %f, got %f", tt.want, buf.Samples[0])
			}
		})
	}
}

func TestDecodeWAVInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("RIFF")},
		{"not riff", append([]byte("XXXX\x00\x00\x00\x00WAVE"), make([]byte, 32)...)},
		{"not wave", append([]byte("RIFF\x00\x00\x00\x00XXXX"), make([]byte, 32)...)},
		{"no fmt", []byte("RIFF\x0c\x00\x00\x00WAVEdata\x00\x00\x00\x00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error")
			}
		})
	}

	t.Run("unsupported format", func(t *testing.T) {
		data := buildWAV(t, 2, 1, 16000, 16, make([]byte, 4))
		if _, err := DecodeWAV(data); err == nil {
			t.Error("Expected error for ADPCM")
		}
	})
}
