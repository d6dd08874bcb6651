package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/meeting-audio-service/internal/audio"
)

// maxBackoff caps the delay between retries
const maxBackoff = 30 * time.Second

// Client transcribes audio against a local whisper-style HTTP server
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Bounds concurrent engine calls
	stats      callStats
}

// callStats accumulates one entry per Transcribe call
type callStats struct {
	mu        sync.RWMutex
	calls     uint64
	succeeded uint64
	failed    uint64
	retries   uint64
	meanTime  time.Duration // mean latency of successful calls
}

func (s *callStats) record(ok bool, retries int, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	s.retries += uint64(retries)
	if !ok {
		s.failed++
		return
	}
	s.succeeded++
	s.meanTime += (elapsed - s.meanTime) / time.Duration(s.succeeded)
}

// Config contains transcription client configuration
type Config struct {
	Endpoint       string
	HealthEndpoint string
	Model          string
	APIKey         string // Optional, local servers usually run without one
	Timeout        time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxConcurrent  int
}

// ClientStats represents client statistics
type ClientStats struct {
	Name            string        `json:"name"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// httpStatusError is returned for non-2xx engine responses
type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a new transcription HTTP client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 120 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Second
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Name returns the engine name reported in diagnostics
func (c *Client) Name() string {
	if c.config.Model != "" {
		return c.config.Model
	}
	return "whisper"
}

// Transcribe sends a buffer to the engine and returns its transcript.
// Every failure is returned as *LocalEngineError.
func (c *Client) Transcribe(ctx context.Context, buf audio.Buffer, opts DecodeOptions) (*Result, error) {
	if !buf.IsNormalized() {
		return nil, &LocalEngineError{Op: "transcribe", Err: fmt.Errorf("buffer must be mono %d Hz, got %d Hz with %d channels", audio.TargetSampleRate, buf.SampleRate, buf.Channels)}
	}

	wavData, err := audio.EncodeWAV(buf)
	if err != nil {
		return nil, &LocalEngineError{Op: "encode", Err: err}
	}

	// Acquire semaphore for concurrency limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, &LocalEngineError{Op: "transcribe", Err: ctx.Err()}
	}

	started := time.Now()
	var lastErr error
	attempt := 0

	for ; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff << (attempt - 1)
			if backoff <= 0 || backoff > maxBackoff {
				backoff = maxBackoff
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				c.stats.record(false, attempt-1, 0)
				return nil, &LocalEngineError{Op: "transcribe", Err: ctx.Err()}
			}
		}

		result, err := c.doRequest(ctx, wavData, opts)
		if err == nil {
			c.stats.record(true, attempt, time.Since(started))
			return result, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			attempt++
			break
		}
	}

	c.stats.record(false, attempt-1, 0)
	return nil, &LocalEngineError{Op: "transcribe", Err: lastErr}
}

// doRequest performs a single HTTP request to the engine
func (c *Client) doRequest(ctx context.Context, wavData []byte, opts DecodeOptions) (*Result, error) {
	body, contentType, err := c.createMultipartRequest(wavData, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Meeting-Audio-Service/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	result.Text = strings.TrimSpace(result.Text)

	return &result, nil
}

// createMultipartRequest creates a multipart/form-data body with the WAV file and decode fields
func (c *Client) createMultipartRequest(wavData []byte, opts DecodeOptions) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "json"},
		{"temperature", strconv.FormatFloat(float64(opts.Temperature), 'f', 2, 32)},
		{"beam_size", strconv.Itoa(opts.BeamSize)},
		{"best_of", strconv.Itoa(opts.BestOf)},
		{"no_speech_threshold", strconv.FormatFloat(float64(opts.NoSpeechThreshold), 'f', 2, 32)},
		{"compression_ratio_threshold", strconv.FormatFloat(float64(opts.CompressionRatioThreshold), 'f', 2, 32)},
		{"condition_on_previous_text", strconv.FormatBool(opts.ConditionOnPreviousText)},
		{"word_timestamps", strconv.FormatBool(opts.WordTimestamps)},
	}
	if opts.Language != "" {
		fields = append(fields, [2]string{"language", opts.Language})
	}
	if c.config.Model != "" {
		fields = append(fields, [2]string{"model", c.config.Model})
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// Health checks that the engine answers on its health endpoint
func (c *Client) Health(ctx context.Context) error {
	endpoint := c.config.HealthEndpoint
	if endpoint == "" {
		endpoint = c.config.Endpoint
	}

	method := http.MethodGet
	if c.config.HealthEndpoint == "" {
		method = http.MethodHead
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return &LocalEngineError{Op: "health", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &LocalEngineError{Op: "health", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// Transcription endpoints answer HEAD with 405, which still proves liveness
	if resp.StatusCode >= 500 {
		return &LocalEngineError{Op: "health", Err: &httpStatusError{StatusCode: resp.StatusCode}}
	}
	return nil
}

// isRetryableError reports transport failures, 5xx and 429 responses
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection") || strings.Contains(errStr, "refused")
}

// GetStats returns a snapshot of the call counters
func (c *Client) GetStats() ClientStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()

	var rate float64
	if c.stats.calls > 0 {
		rate = float64(c.stats.succeeded) / float64(c.stats.calls) * 100
	}

	return ClientStats{
		Name:            c.Name(),
		TotalRequests:   c.stats.calls,
		SuccessRequests: c.stats.succeeded,
		FailedRequests:  c.stats.failed,
		SuccessRate:     rate,
		TotalRetries:    c.stats.retries,
		AvgResponseTime: c.stats.meanTime,
		ActiveRequests:  len(c.semaphore),
	}
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
