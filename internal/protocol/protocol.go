package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
)

// DefaultSampleRate is assumed when an inbound audio message omits sample_rate.
const DefaultSampleRate = 16000

// Inbound sample_rate bounds. Anything outside would resample into an unbounded buffer.
const (
	MinSampleRate = audio.MinSampleRate
	MaxSampleRate = audio.MaxSampleRate
)

// Inbound message types
const (
	TypeAudioChunk       = "audio_chunk"
	TypeAudioChunkRaw    = "audio_chunk_raw"
	TypeAudioChunkBase64 = "audio_chunk_base64"
	TypePing             = "ping"
)

// Outbound message types
const (
	TypeTranscription = "transcription"
	TypeSpeakerAlert  = "speaker_alert"
	TypeError         = "error"
	TypePong          = "pong"
)

// Encoding describes how the audio of an inbound message reached us.
type Encoding int

const (
	EncodingNone    Encoding = iota // ping
	EncodingSamples                 // int16 sample array
	EncodingBytes                   // raw container or pcm bytes
)

// ProtocolError reports a malformed inbound message. A session that receives
// one closes the channel after a best-effort error event.
type ProtocolError struct {
	Type   string // message type, empty when undecodable
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Type != "" {
		msg += " in " + e.Type
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ByteArray decodes either a JSON array of numbers in [0,255] or a base64
// string. Browsers send Array.from(Uint8Array) for the former.
type ByteArray []byte

// UnmarshalJSON implements json.Unmarshaler.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := decodeBase64(s)
		if err != nil {
			return err
		}
		*b = decoded
		return nil
	}

	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("expected byte array or base64 string: %w", err)
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d at index %d out of range", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// envelope is the union of every inbound field.
type envelope struct {
	Type       string          `json:"type"`
	AudioData  json.RawMessage `json:"audio_data"`
	Data       json.RawMessage `json:"data"`
	SampleRate *int            `json:"sample_rate"`
	Format     string          `json:"format"`
	Size       *int            `json:"size"`
	Language   string          `json:"language"`
	Strategy   string          `json:"strategy"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

// Inbound is a validated inbound message.
type Inbound struct {
	Type       string
	Encoding   Encoding
	Samples    []int16 // EncodingSamples
	Bytes      []byte  // EncodingBytes
	Format     string  // container hint for EncodingBytes, "pcm" for base64 chunks
	SampleRate int
	Language   string
	Strategy   string
	// Timestamp is echoed back verbatim on the matching transcription event.
	Timestamp json.RawMessage
}

// ParseInbound decodes and validates a single inbound frame.
func ParseInbound(data []byte) (*Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ProtocolError{Reason: "invalid JSON", Err: err}
	}

	msg := &Inbound{
		Type:      env.Type,
		Language:  strings.TrimSpace(env.Language),
		Strategy:  strings.TrimSpace(env.Strategy),
		Timestamp: env.Timestamp,
	}
	if bytes.Equal(bytes.TrimSpace(msg.Timestamp), []byte("null")) {
		msg.Timestamp = nil
	}

	switch env.Type {
	case TypePing:
		msg.Encoding = EncodingNone
		return msg, nil
	case TypeAudioChunk, TypeAudioChunkRaw, TypeAudioChunkBase64:
	case "":
		return nil, &ProtocolError{Reason: "missing message type"}
	default:
		return nil, &ProtocolError{Type: env.Type, Reason: "unknown message type"}
	}

	rate := DefaultSampleRate
	if env.SampleRate != nil {
		rate = *env.SampleRate
	}
	if rate < MinSampleRate || rate > MaxSampleRate {
		return nil, &ProtocolError{Type: env.Type, Reason: fmt.Sprintf("invalid sample rate %d", rate)}
	}
	msg.SampleRate = rate

	payload := env.AudioData
	if isAbsent(payload) {
		payload = env.Data
	}
	if isAbsent(payload) {
		return nil, &ProtocolError{Type: env.Type, Reason: "missing audio data"}
	}

	switch env.Type {
	case TypeAudioChunk:
		var samples []int16
		if err := json.Unmarshal(payload, &samples); err != nil {
			return nil, &ProtocolError{Type: env.Type, Reason: "audio_data must be an int16 array", Err: err}
		}
		if len(samples) == 0 {
			return nil, &ProtocolError{Type: env.Type, Reason: "missing audio data"}
		}
		msg.Encoding = EncodingSamples
		msg.Samples = samples

	case TypeAudioChunkRaw:
		var raw ByteArray
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, &ProtocolError{Type: env.Type, Reason: "invalid audio bytes", Err: err}
		}
		if len(raw) == 0 {
			return nil, &ProtocolError{Type: env.Type, Reason: "missing audio data"}
		}
		if env.Size != nil && *env.Size != len(raw) {
			return nil, &ProtocolError{
				Type:   env.Type,
				Reason: fmt.Sprintf("size mismatch: declared %d, got %d", *env.Size, len(raw)),
			}
		}
		msg.Encoding = EncodingBytes
		msg.Bytes = raw
		msg.Format = strings.ToLower(strings.TrimSpace(env.Format))

	case TypeAudioChunkBase64:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, &ProtocolError{Type: env.Type, Reason: "audio_data must be a base64 string", Err: err}
		}
		raw, err := decodeBase64(s)
		if err != nil {
			return nil, &ProtocolError{Type: env.Type, Reason: "invalid base64", Err: err}
		}
		if len(raw) == 0 {
			return nil, &ProtocolError{Type: env.Type, Reason: "missing audio data"}
		}
		msg.Encoding = EncodingBytes
		msg.Bytes = raw
		msg.Format = strings.ToLower(strings.TrimSpace(env.Format))
		if msg.Format == "" {
			msg.Format = "pcm"
		}
	}

	return msg, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if out, err := enc.DecodeString(s); err == nil {
			return out, nil
		}
	}
	return nil, fmt.Errorf("not valid base64 (%d chars)", len(s))
}

// Transcription is sent for every non-empty real-time result.
type Transcription struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	SpeakerID  *int            `json:"speaker_id"`
	Confidence float64         `json:"confidence"`
	Timestamp  json.RawMessage `json:"timestamp"`
	Strategy   string          `json:"strategy,omitempty"`
	Language   string          `json:"language,omitempty"`
}

// SpeakerAlert is sent after a transcription for each matched profile term.
type SpeakerAlert struct {
	Type       string  `json:"type"`
	AlertType  string  `json:"alert_type"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}

// Error reports a failure to the client.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

// NewTranscription builds a transcription event. A missing timestamp is sent as null.
func NewTranscription(text string, speakerID *int, confidence float64, timestamp json.RawMessage, strategy, language string) Transcription {
	if len(timestamp) == 0 {
		timestamp = json.RawMessage("null")
	}
	return Transcription{
		Type:       TypeTranscription,
		Text:       text,
		SpeakerID:  speakerID,
		Confidence: confidence,
		Timestamp:  timestamp,
		Strategy:   strategy,
		Language:   language,
	}
}

// NewSpeakerAlert builds an alert event; message is prefixed the way clients expect.
func NewSpeakerAlert(alertType, triggeredText string, confidence float64, timestamp string) SpeakerAlert {
	return SpeakerAlert{
		Type:       TypeSpeakerAlert,
		AlertType:  alertType,
		Message:    "Alert triggered: " + triggeredText,
		Confidence: confidence,
		Timestamp:  timestamp,
	}
}

// NewError builds an error event.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// NewPong builds a pong event.
func NewPong() Pong {
	return Pong{Type: TypePong}
}
