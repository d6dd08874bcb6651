package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
	"github.com/skypro1111/meeting-audio-service/internal/orchestrator"
	"github.com/skypro1111/meeting-audio-service/internal/profile"
	"github.com/skypro1111/meeting-audio-service/internal/protocol"
)

// Conn is the subset of *websocket.Conn a session needs
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Processor transcribes one normalized live chunk
type Processor interface {
	ProcessRealtime(ctx context.Context, buf audio.Buffer, language string) (orchestrator.RealtimeResult, error)
}

// Decoder turns container or raw pcm bytes into a normalized buffer
type Decoder interface {
	DecodeContainer(ctx context.Context, data []byte, format string, sampleRate int) (audio.Buffer, error)
}

// AlertChecker finds profile mentions in a transcription
type AlertChecker interface {
	CheckForAlerts(text string) []profile.Alert
}

// Session is one live websocket channel. Language and strategy label are
// the only state carried between messages.
type Session struct {
	ID           string
	RemoteAddr   string
	StartTime    time.Time
	LastActivity time.Time

	language string
	strategy string

	messagesReceived   uint64
	chunksProcessed    uint64
	transcriptionsSent uint64
	alertsSent         uint64
	errorsSent         uint64

	conn    Conn
	manager *Manager
	closed  bool

	mu sync.RWMutex
}

// SessionInfo is a monitoring snapshot of a session
type SessionInfo struct {
	ID                 string        `json:"id"`
	RemoteAddr         string        `json:"remote_addr"`
	StartTime          time.Time     `json:"start_time"`
	LastActivity       time.Time     `json:"last_activity"`
	Duration           time.Duration `json:"duration"`
	Language           string        `json:"language"`
	Strategy           string        `json:"strategy"`
	MessagesReceived   uint64        `json:"messages_received"`
	ChunksProcessed    uint64        `json:"chunks_processed"`
	TranscriptionsSent uint64        `json:"transcriptions_sent"`
	AlertsSent         uint64        `json:"alerts_sent"`
	ErrorsSent         uint64        `json:"errors_sent"`
}

// GetSessionInfo returns a snapshot for monitoring APIs
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:                 s.ID,
		RemoteAddr:         s.RemoteAddr,
		StartTime:          s.StartTime,
		LastActivity:       s.LastActivity,
		Duration:           time.Since(s.StartTime),
		Language:           s.language,
		Strategy:           s.strategy,
		MessagesReceived:   s.messagesReceived,
		ChunksProcessed:    s.chunksProcessed,
		TranscriptionsSent: s.transcriptionsSent,
		AlertsSent:         s.alertsSent,
		ErrorsSent:         s.errorsSent,
	}
}

// Run reads and handles messages until the client disconnects, a protocol
// error occurs, the session is closed or ctx is cancelled. Each message is
// fully handled before the next one is read.
func (s *Session) Run(ctx context.Context) error {
	logger := s.manager.logger.With(slog.String("session_id", s.ID))
	m := s.manager.metrics

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.isClosed() || isNormalClose(err) {
				logger.Debug("Session channel closed", slog.String("reason", err.Error()))
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		s.touch()

		msg, err := protocol.ParseInbound(data)
		if err != nil {
			m.RecordProtocolError()
			logger.Warn("Protocol error, closing session", slog.String("error", err.Error()))
			s.sendError(err.Error())
			return err
		}
		m.RecordSessionMessage(msg.Type)

		if err := s.handle(ctx, logger, msg); err != nil {
			return err
		}
	}
}

// handle processes one validated message. Only write failures are returned;
// decode and engine failures are reported to the client and the session
// continues.
func (s *Session) handle(ctx context.Context, logger *slog.Logger, msg *protocol.Inbound) error {
	if msg.Type == protocol.TypePing {
		if err := s.conn.WriteJSON(protocol.NewPong()); err != nil {
			return fmt.Errorf("failed to write pong: %w", err)
		}
		return nil
	}

	language, strategy := s.updateState(msg)

	buf, err := s.decode(ctx, msg)
	if err != nil {
		logger.Warn("Failed to decode audio chunk",
			slog.String("type", msg.Type),
			slog.String("format", msg.Format),
			slog.String("error", err.Error()),
		)
		return s.writeError(fmt.Sprintf("Audio decode failed: %v", err))
	}

	chunkCtx, cancel := context.WithTimeout(ctx, s.manager.config.ChunkTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.manager.processor.ProcessRealtime(chunkCtx, buf, language)
	duration := time.Since(start)

	s.mu.Lock()
	s.chunksProcessed++
	s.mu.Unlock()

	if err != nil {
		logger.Error("Real-time chunk processing failed",
			slog.Float64("audio_seconds", buf.Duration().Seconds()),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return s.writeError(fmt.Sprintf("Chunk processing failed: %v", err))
	}

	if result.Text == "" {
		logger.Debug("Chunk produced no text", slog.Duration("duration", duration))
		return nil
	}

	event := protocol.NewTranscription(result.Text, result.SpeakerID, result.Confidence, msg.Timestamp, strategy, language)
	if err := s.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to write transcription: %w", err)
	}
	s.mu.Lock()
	s.transcriptionsSent++
	s.mu.Unlock()

	logger.Info("Real-time transcription sent",
		slog.String("text", result.Text),
		slog.Float64("confidence", result.Confidence),
		slog.Duration("duration", duration),
	)

	if s.manager.alerts == nil {
		return nil
	}
	for _, alert := range s.manager.alerts.CheckForAlerts(result.Text) {
		ev := protocol.NewSpeakerAlert(alert.AlertType, alert.TriggeredText, alert.Confidence, alert.Timestamp.Format(time.RFC3339))
		if err := s.conn.WriteJSON(ev); err != nil {
			return fmt.Errorf("failed to write speaker alert: %w", err)
		}
		s.manager.metrics.RecordAlert(alert.AlertType)
		s.mu.Lock()
		s.alertsSent++
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) decode(ctx context.Context, msg *protocol.Inbound) (audio.Buffer, error) {
	switch msg.Encoding {
	case protocol.EncodingSamples:
		return audio.NormalizeSamples(msg.Samples, msg.SampleRate)
	case protocol.EncodingBytes:
		return s.manager.decoder.DecodeContainer(ctx, msg.Bytes, msg.Format, msg.SampleRate)
	default:
		return audio.Buffer{}, fmt.Errorf("message %s carries no audio", msg.Type)
	}
}

func (s *Session) updateState(msg *protocol.Inbound) (language, strategy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messagesReceived++
	if msg.Language != "" {
		s.language = msg.Language
	}
	if msg.Strategy != "" {
		s.strategy = msg.Strategy
	}
	return s.language, s.strategy
}

// writeError sends an error event and reports only a failed write
func (s *Session) writeError(message string) error {
	s.mu.Lock()
	s.errorsSent++
	s.mu.Unlock()

	if err := s.conn.WriteJSON(protocol.NewError(message)); err != nil {
		return fmt.Errorf("failed to write error event: %w", err)
	}
	return nil
}

// sendError is the best-effort variant used just before the session ends
func (s *Session) sendError(message string) {
	if err := s.writeError(message); err != nil {
		s.manager.logger.Debug("Failed to deliver error event",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// close marks the session closed and closes the connection, unblocking Run
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.conn.Close(); err != nil {
		s.manager.logger.Debug("Error closing session connection",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
