package backend

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownBackend is returned for ids that are not registered
	ErrUnknownBackend = errors.New("unknown backend")
	// ErrEmptyResponse is returned when a backend answers without any choice
	ErrEmptyResponse = errors.New("backend returned no choices")
)

// Backend is a remote chat completion endpoint used to improve transcripts
type Backend interface {
	ID() string
	Provider() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
	ListModels(ctx context.Context) error
}

// Prompt is a single system+user exchange sent to a backend
type Prompt struct {
	System      string  `json:"system"`
	User        string  `json:"user"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// CallResult is produced exactly once per invocation and never mutated
type CallResult struct {
	BackendID      string        `json:"backend_id"`
	Text           string        `json:"text"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
	OriginalLength int           `json:"original_length"`
	ImprovedLength int           `json:"improved_length"`
	Duration       time.Duration `json:"duration"`
}

// OK reports a successful call with non-empty text
func (r CallResult) OK() bool {
	return r.Success && r.Text != ""
}

// BackendCallError reports a failed or timed out remote call
type BackendCallError struct {
	BackendID string
	Err       error
}

func (e *BackendCallError) Error() string {
	return fmt.Sprintf("backend %s call failed: %v", e.BackendID, e.Err)
}

func (e *BackendCallError) Unwrap() error {
	return e.Err
}
