package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skypro1111/meeting-audio-service/internal/backend"
	"github.com/skypro1111/meeting-audio-service/internal/orchestrator"
)

// Config represents the complete service configuration
type Config struct {
	HTTP         HTTPConfig         `yaml:"http" json:"http"`
	Audio        AudioConfig        `yaml:"audio" json:"audio"`
	ASR          ASRConfig          `yaml:"asr" json:"asr"`
	Backends     []BackendConfig    `yaml:"backends" json:"backends"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" json:"orchestrator"`
	Realtime     RealtimeConfig     `yaml:"realtime" json:"realtime"`
	Profile      ProfileConfig      `yaml:"profile" json:"profile"`
	Summarizer   SummarizerConfig   `yaml:"summarizer" json:"summarizer"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port            int      `yaml:"port" json:"port"`
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     int      `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout    int      `yaml:"write_timeout" json:"write_timeout"` // seconds
	ShutdownTimeout int      `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxUploadMB     int      `yaml:"max_upload_mb" json:"max_upload_mb"`
	UploadDir       string   `yaml:"upload_dir" json:"upload_dir"` // empty means os.TempDir()
	CORSOrigins     []string `yaml:"cors_origins" json:"cors_origins"`
}

// AudioConfig contains decoding and chunking parameters
type AudioConfig struct {
	FFmpegPath        string  `yaml:"ffmpeg_path" json:"ffmpeg_path"`
	ChunkDuration     float64 `yaml:"chunk_duration" json:"chunk_duration"` // seconds
	MaxParallelChunks int     `yaml:"max_parallel_chunks" json:"max_parallel_chunks"`
}

// ASRConfig describes the local transcription engine
type ASRConfig struct {
	Endpoint       string  `yaml:"endpoint" json:"endpoint"`
	HealthEndpoint string  `yaml:"health_endpoint" json:"health_endpoint"`
	Model          string  `yaml:"model" json:"model"`
	APIKey         string  `yaml:"api_key" json:"-"`
	APIKeyEnv      string  `yaml:"api_key_env" json:"api_key_env"`
	Language       string  `yaml:"language" json:"language"`
	Timeout        int     `yaml:"timeout" json:"timeout"` // seconds
	MaxRetries     int     `yaml:"max_retries" json:"max_retries"`
	RetryBackoff   float64 `yaml:"retry_backoff" json:"retry_backoff"` // seconds
	MaxConcurrent  int     `yaml:"max_concurrent" json:"max_concurrent"`
}

// BackendConfig describes one OpenAI-compatible remote model
type BackendConfig struct {
	ID        string            `yaml:"id" json:"id"`
	Provider  string            `yaml:"provider" json:"provider"`
	BaseURL   string            `yaml:"base_url" json:"base_url"`
	Model     string            `yaml:"model" json:"model"`
	APIKey    string            `yaml:"api_key" json:"-"`
	APIKeyEnv string            `yaml:"api_key_env" json:"api_key_env"`
	Headers   map[string]string `yaml:"headers" json:"headers"`
	Timeout   int               `yaml:"timeout" json:"timeout"` // seconds
}

// OrchestratorConfig selects backends and prompt settings per strategy
type OrchestratorConfig struct {
	TwoModelBackends      []string                      `yaml:"two_model_backends" json:"two_model_backends"`
	CorrectionBackend     string                        `yaml:"correction_backend" json:"correction_backend"`
	Improve               []orchestrator.PromptSettings `yaml:"improve" json:"improve"`
	Correction            orchestrator.PromptSettings   `yaml:"correction" json:"correction"`
	FileStrategy          string                        `yaml:"file_strategy" json:"file_strategy"`
	UploadStrategy        string                        `yaml:"upload_strategy" json:"upload_strategy"`
	DefaultBackendTimeout int                           `yaml:"default_backend_timeout" json:"default_backend_timeout"` // seconds
	HealthTimeout         int                           `yaml:"health_timeout" json:"health_timeout"`                   // seconds
}

// RealtimeConfig contains websocket session and filter settings
type RealtimeConfig struct {
	IdleTimeout     int      `yaml:"idle_timeout" json:"idle_timeout"`         // seconds
	CleanupInterval int      `yaml:"cleanup_interval" json:"cleanup_interval"` // seconds
	ChunkTimeout    int      `yaml:"chunk_timeout" json:"chunk_timeout"`       // seconds
	MinTextLength   int      `yaml:"min_text_length" json:"min_text_length"`
	Fillers         []string `yaml:"fillers" json:"fillers"`   // empty means the built-in list
	LeadIns         []string `yaml:"lead_ins" json:"lead_ins"` // empty means the built-in list
}

// ProfileConfig locates the user profile file
type ProfileConfig struct {
	Path string `yaml:"path" json:"path"`
}

// SummarizerConfig selects the summary backend
type SummarizerConfig struct {
	Backend     string  `yaml:"backend" json:"backend"` // empty disables remote summaries
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Temperature float32 `yaml:"temperature" json:"temperature"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Load reads .env (when present), parses the YAML file at path, resolves
// secrets from the environment and validates the result
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.resolveSecrets()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Default returns a configuration with every optional value filled in.
// Backends are left empty and must come from the file.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:            8000,
			Address:         "0.0.0.0",
			ReadTimeout:     60,
			WriteTimeout:    600,
			ShutdownTimeout: 30,
			MaxUploadMB:     200,
			CORSOrigins:     []string{"*"},
		},
		Audio: AudioConfig{
			ChunkDuration:     20,
			MaxParallelChunks: 4,
		},
		ASR: ASRConfig{
			Endpoint:      "http://localhost:9000/v1/audio/transcriptions",
			Language:      "en",
			Timeout:       120,
			MaxRetries:    2,
			RetryBackoff:  1,
			MaxConcurrent: 4,
		},
		Orchestrator: OrchestratorConfig{
			FileStrategy:          string(orchestrator.StrategyTwoModel),
			UploadStrategy:        string(orchestrator.StrategyChunkedFast),
			DefaultBackendTimeout: 30,
			HealthTimeout:         10,
		},
		Realtime: RealtimeConfig{
			IdleTimeout:     300,
			CleanupInterval: 30,
			ChunkTimeout:    30,
		},
		Profile: ProfileConfig{Path: "user_profile.json"},
		Summarizer: SummarizerConfig{
			MaxTokens:   1500,
			Temperature: 0.3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// resolveSecrets fills api keys from the named environment variables.
// An inline key wins over the environment.
func (c *Config) resolveSecrets() {
	if c.ASR.APIKey == "" && c.ASR.APIKeyEnv != "" {
		c.ASR.APIKey = os.Getenv(c.ASR.APIKeyEnv)
	}
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.APIKey == "" && b.APIKeyEnv != "" {
			b.APIKey = os.Getenv(b.APIKeyEnv)
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}

	if len(c.Backends) > backend.MaxBackends {
		return fmt.Errorf("at most %d backends are supported, got %d", backend.MaxBackends, len(c.Backends))
	}
	ids := make(map[string]bool, len(c.Backends))
	for i := range c.Backends {
		b := &c.Backends[i]
		if err := b.Validate(); err != nil {
			return fmt.Errorf("backend %d: %w", i, err)
		}
		if ids[b.ID] {
			return fmt.Errorf("duplicate backend id %q", b.ID)
		}
		ids[b.ID] = true
	}

	if err := c.Orchestrator.Validate(ids); err != nil {
		return fmt.Errorf("orchestrator config: %w", err)
	}

	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}

	if c.Profile.Path == "" {
		return fmt.Errorf("profile config: path cannot be empty")
	}

	if c.Summarizer.Backend != "" && !ids[c.Summarizer.Backend] {
		return fmt.Errorf("summarizer config: backend %q is not configured", c.Summarizer.Backend)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty")
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 {
		return fmt.Errorf("read_timeout and write_timeout must be at least 1 second")
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.ChunkDuration < 1 {
		return fmt.Errorf("chunk_duration must be at least 1 second, got %f", a.ChunkDuration)
	}

	if a.MaxParallelChunks < 1 {
		return fmt.Errorf("max_parallel_chunks must be at least 1, got %d", a.MaxParallelChunks)
	}

	return nil
}

// Validate validates local engine configuration
func (a *ASRConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	if a.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative, got %f", a.RetryBackoff)
	}

	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	return nil
}

// Validate validates one backend entry
func (b *BackendConfig) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id cannot be empty")
	}

	if b.Model == "" {
		return fmt.Errorf("backend %q: model cannot be empty", b.ID)
	}

	if b.APIKey == "" {
		if b.APIKeyEnv != "" {
			return fmt.Errorf("backend %q: environment variable %s is not set", b.ID, b.APIKeyEnv)
		}
		return fmt.Errorf("backend %q: api_key or api_key_env is required", b.ID)
	}

	if b.Timeout < 0 {
		return fmt.Errorf("backend %q: timeout cannot be negative, got %d", b.ID, b.Timeout)
	}

	return nil
}

// Validate checks strategy labels and that every referenced backend exists
func (o *OrchestratorConfig) Validate(backendIDs map[string]bool) error {
	if len(o.TwoModelBackends) != 2 {
		return fmt.Errorf("two_model_backends must list exactly 2 backends, got %d", len(o.TwoModelBackends))
	}
	for _, id := range o.TwoModelBackends {
		if !backendIDs[id] {
			return fmt.Errorf("two_model backend %q is not configured", id)
		}
	}
	if o.TwoModelBackends[0] == o.TwoModelBackends[1] {
		return fmt.Errorf("two_model_backends must differ")
	}

	if !backendIDs[o.CorrectionBackend] {
		return fmt.Errorf("correction_backend %q is not configured", o.CorrectionBackend)
	}

	if len(o.Improve) != 0 && len(o.Improve) != len(o.TwoModelBackends) {
		return fmt.Errorf("improve must have one entry per two_model backend, got %d", len(o.Improve))
	}

	for _, label := range []string{o.FileStrategy, o.UploadStrategy} {
		if _, err := orchestrator.ParseStrategy(label); err != nil {
			return err
		}
	}

	if o.DefaultBackendTimeout < 1 {
		return fmt.Errorf("default_backend_timeout must be at least 1 second, got %d", o.DefaultBackendTimeout)
	}

	if o.HealthTimeout < 1 {
		return fmt.Errorf("health_timeout must be at least 1 second, got %d", o.HealthTimeout)
	}

	return nil
}

// Validate validates real-time settings
func (r *RealtimeConfig) Validate() error {
	if r.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", r.IdleTimeout)
	}

	if r.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", r.CleanupInterval)
	}

	if r.ChunkTimeout < 1 {
		return fmt.Errorf("chunk_timeout must be at least 1 second, got %d", r.ChunkTimeout)
	}

	if r.MinTextLength < 0 {
		return fmt.Errorf("min_text_length cannot be negative, got %d", r.MinTextLength)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything besides stdout and stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Addr returns the listen address
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetShutdownTimeoutDuration returns the graceful shutdown bound
func (h *HTTPConfig) GetShutdownTimeoutDuration() time.Duration {
	if h.ShutdownTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.ShutdownTimeout) * time.Second
}

// GetMaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}

// GetTimeoutDuration returns the engine request timeout as a time.Duration
func (a *ASRConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetRetryBackoffDuration returns the base retry backoff as a time.Duration
func (a *ASRConfig) GetRetryBackoffDuration() time.Duration {
	return time.Duration(a.RetryBackoff * float64(time.Second))
}

// GetTimeoutDuration returns the per-call timeout, zero meaning the registry default
func (b *BackendConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// GetDefaultBackendTimeoutDuration returns the registry default timeout
func (o *OrchestratorConfig) GetDefaultBackendTimeoutDuration() time.Duration {
	return time.Duration(o.DefaultBackendTimeout) * time.Second
}

// GetHealthTimeoutDuration returns the health probe timeout
func (o *OrchestratorConfig) GetHealthTimeoutDuration() time.Duration {
	return time.Duration(o.HealthTimeout) * time.Second
}

// GetIdleTimeoutDuration returns the idle session timeout
func (r *RealtimeConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(r.IdleTimeout) * time.Second
}

// GetCleanupIntervalDuration returns the idle reaper interval
func (r *RealtimeConfig) GetCleanupIntervalDuration() time.Duration {
	return time.Duration(r.CleanupInterval) * time.Second
}

// GetChunkTimeoutDuration returns the per-chunk processing bound
func (r *RealtimeConfig) GetChunkTimeoutDuration() time.Duration {
	return time.Duration(r.ChunkTimeout) * time.Second
}
