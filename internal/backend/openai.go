package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig describes one OpenAI-compatible chat endpoint
type OpenAIConfig struct {
	ID       string
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Headers  map[string]string // Extra request headers, e.g. OpenRouter attribution
	Timeout  time.Duration
}

// OpenAIBackend talks to Groq, OpenRouter or any OpenAI-compatible API
type OpenAIBackend struct {
	id       string
	provider string
	model    string
	client   *openai.Client
}

// headerTransport adds fixed headers to every request
type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// NewOpenAIBackend creates a new OpenAI-compatible backend
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("backend id cannot be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("backend %s: model cannot be empty", cfg.ID)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	var transport http.RoundTripper = http.DefaultTransport
	if len(cfg.Headers) > 0 {
		transport = &headerTransport{headers: cfg.Headers, base: transport}
	}
	clientConfig.HTTPClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}

	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}

	return &OpenAIBackend{
		id:       cfg.ID,
		provider: provider,
		model:    cfg.Model,
		client:   openai.NewClientWithConfig(clientConfig),
	}, nil
}

// ID returns the backend id
func (b *OpenAIBackend) ID() string { return b.id }

// Provider returns the provider name
func (b *OpenAIBackend) Provider() string { return b.provider }

// Model returns the model served by this backend
func (b *OpenAIBackend) Model() string { return b.model }

// Complete sends one chat completion and returns the first choice
func (b *OpenAIBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.User,
	})

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   prompt.MaxTokens,
		Temperature: prompt.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// ListModels verifies the endpoint answers a model listing
func (b *OpenAIBackend) ListModels(ctx context.Context) error {
	if _, err := b.client.ListModels(ctx); err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}
	return nil
}
