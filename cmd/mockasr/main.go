// Command mockasr is a stand-in local transcription engine for development.
// It accepts the same multipart requests as a whisper-compatible server and
// answers with a fixed transcript sized to the uploaded audio.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
	"github.com/skypro1111/meeting-audio-service/internal/transcription"
)

type mockServer struct {
	text       string
	logger     *slog.Logger
	normalizer *audio.Normalizer
}

func (m *mockServer) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	buf, err := m.normalizer.DecodeContainer(r.Context(), data, "wav", audio.TargetSampleRate)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error decoding audio: %v", err), http.StatusBadRequest)
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}

	m.logger.Info("Transcription request received",
		slog.String("filename", header.Filename),
		slog.Int("bytes", len(data)),
		slog.Duration("audio", buf.Duration()),
		slog.String("language", language),
		slog.String("model", r.FormValue("model")),
		slog.String("temperature", r.FormValue("temperature")),
		slog.String("beam_size", r.FormValue("beam_size")),
	)

	// Simulate inference latency
	time.Sleep(50 * time.Millisecond)

	seconds := buf.Duration().Seconds()
	resp := transcription.Result{
		Language: language,
		Duration: seconds,
	}
	if buf.Len() > 0 {
		resp.Text = m.text
		resp.Segments = []transcription.Segment{{Start: 0, End: seconds, Text: m.text}}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		m.logger.Error("Error encoding response", slog.String("error", err.Error()))
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy", "service": "mock-asr"})
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	text := flag.String("text", "This is a mock transcription of the meeting audio.", "Transcript returned for every request")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	m := &mockServer{
		text:       *text,
		logger:     logger,
		normalizer: audio.NewNormalizer(audio.NormalizerConfig{}, logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", m.transcribeHandler)
	mux.HandleFunc("/health", healthHandler)

	logger.Info("Mock transcription server starting",
		slog.String("addr", *addr),
		slog.String("endpoint", "/v1/audio/transcriptions"),
	)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
