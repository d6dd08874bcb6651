package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
	"github.com/skypro1111/meeting-audio-service/internal/orchestrator"
	"github.com/skypro1111/meeting-audio-service/internal/protocol"
)

// defaultUploadExt is used when an upload has no file extension
const defaultUploadExt = ".mp3"

// ProcessResponse is returned by /api/process-audio
type ProcessResponse struct {
	Transcription  string           `json:"transcription"`
	FullSummary    string           `json:"full_summary"`
	KeyPoints      []string         `json:"key_points"`
	ActionItems    []string         `json:"action_items"`
	Conclusion     string           `json:"conclusion"`
	ProcessingTime float64          `json:"processing_time"`
	APIUsed        string           `json:"api_used"`
	Confidence     float64          `json:"confidence"`
	SpeakerCount   int              `json:"speaker_count"`
	Speakers       []SpeakerSegment `json:"speakers"`
	Strategy       string           `json:"strategy"`
	Tier           string           `json:"tier"`
}

// SpeakerSegment is a diarized span. The fast estimate produces none.
type SpeakerSegment struct {
	SpeakerID int     `json:"speaker_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
}

// RealtimeChunkRequest is the body of /api/process-realtime-chunk
type RealtimeChunkRequest struct {
	AudioData  protocol.ByteArray `json:"audio_data"`
	SampleRate int                `json:"sample_rate"`
	Format     string             `json:"format"`
	Language   string             `json:"language"`
}

// RealtimeChunkResponse is the result of /api/process-realtime-chunk
type RealtimeChunkResponse struct {
	Transcription string  `json:"transcription"`
	SpeakerID     *int    `json:"speaker_id"`
	Confidence    float64 `json:"confidence"`
}

// handleProcessAudio transcribes and summarizes a server-side path or an upload
func (h *HTTPServer) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload exceeds the size limit")
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid form data: %v", err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	override := strings.TrimSpace(r.FormValue("strategy"))
	var strategy orchestrator.Strategy
	if override != "" {
		parsed, err := orchestrator.ParseStrategy(override)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		strategy = parsed
	}

	if filePath := strings.TrimSpace(r.FormValue("file_path")); filePath != "" {
		if _, err := os.Stat(filePath); err != nil {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		if strategy == "" {
			strategy = h.fileStrategy
		}
		h.logger.Info("Processing audio from path",
			slog.String("path", filePath),
			slog.String("strategy", string(strategy)),
		)
		h.processFile(w, r, filePath, strategy)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Either file_path or file must be provided")
		return
	}
	defer file.Close()

	tempPath, err := h.saveUpload(file, header)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Processing failed: %v", err))
		return
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("Failed to clean up upload", slog.String("path", tempPath), slog.String("error", err.Error()))
		}
	}()

	if strategy == "" {
		strategy = h.uploadStrategy
	}
	h.logger.Info("Processing uploaded file",
		slog.String("filename", header.Filename),
		slog.String("temp_path", tempPath),
		slog.Int64("size", header.Size),
		slog.String("strategy", string(strategy)),
	)
	h.processFile(w, r, tempPath, strategy)
}

// saveUpload writes the upload to a uniquely named file in the upload directory.
// The caller removes the file.
func (h *HTTPServer) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(header.Filename)))
	if ext == "" || len(ext) > 8 {
		ext = defaultUploadExt
	}

	dir := h.config.HTTP.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	name := fmt.Sprintf("%s_%s%s", strings.ReplaceAll(uuid.NewString(), "-", ""), time.Now().Format("20060102_150405"), ext)
	path := filepath.Join(dir, name)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}

// processFile runs normalizer, speaker estimate, orchestrator and summarizer
func (h *HTTPServer) processFile(w http.ResponseWriter, r *http.Request, path string, strategy orchestrator.Strategy) {
	ctx := r.Context()

	buf, sourceRate, err := h.deps.Loader.Load(ctx, path)
	if err != nil {
		h.logger.Error("Error processing audio", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Processing failed: %v", err))
		return
	}

	estimate := h.deps.Speakers.EstimateSpeakers(buf)

	outcome, err := h.deps.Pipeline.Process(ctx, strategy, buf)
	if err != nil {
		h.logger.Error("Error processing audio",
			slog.String("path", path),
			slog.String("strategy", string(strategy)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Processing failed: %v", err))
		return
	}

	report := h.deps.Summarizer.GenerateComprehensiveSummary(ctx, outcome.Text)

	h.logger.Info("Audio processed",
		slog.String("strategy", string(outcome.Strategy)),
		slog.String("tier", string(outcome.Tier)),
		slog.String("source", outcome.Source),
		slog.Int("source_rate", sourceRate),
		slog.Float64("audio_seconds", buf.Duration().Seconds()),
		slog.Float64("processing_time", outcome.ProcessingTimeSeconds),
		slog.Int("speaker_count", estimate.SpeakerCount),
	)

	writeJSON(w, http.StatusOK, ProcessResponse{
		Transcription:  outcome.Text,
		FullSummary:    report.FullSummary,
		KeyPoints:      nonNil(report.KeyPoints),
		ActionItems:    nonNil(report.ActionItems),
		Conclusion:     report.Conclusion,
		ProcessingTime: outcome.ProcessingTimeSeconds,
		APIUsed:        outcome.Source,
		Confidence:     outcome.Confidence,
		SpeakerCount:   estimate.SpeakerCount,
		Speakers:       []SpeakerSegment{},
		Strategy:       string(outcome.Strategy),
		Tier:           string(outcome.Tier),
	})
}

// handleRealtimeChunk transcribes one short chunk without a websocket
func (h *HTTPServer) handleRealtimeChunk(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}

	var req RealtimeChunkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.config.HTTP.GetMaxUploadBytes())).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if len(req.AudioData) == 0 {
		writeError(w, http.StatusBadRequest, "audio_data is required")
		return
	}
	if req.SampleRate == 0 {
		req.SampleRate = audio.TargetSampleRate
	}
	if err := audio.CheckSampleRate(req.SampleRate); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid sample_rate: %v", err))
		return
	}
	if req.Format == "" {
		req.Format = "pcm"
	}
	language := req.Language
	if language == "" {
		language = h.deps.Pipeline.Language()
	}

	buf, err := h.deps.Loader.DecodeContainer(r.Context(), req.AudioData, req.Format, req.SampleRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Chunk processing failed: %v", err))
		return
	}

	result, err := h.deps.Pipeline.ProcessRealtime(r.Context(), buf, language)
	if err != nil {
		h.logger.Error("Error processing chunk", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Chunk processing failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, RealtimeChunkResponse{
		Transcription: result.Text,
		SpeakerID:     result.SpeakerID,
		Confidence:    result.Confidence,
	})
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
