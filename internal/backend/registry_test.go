package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/meeting-audio-service/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend is an in-memory Backend
type fakeBackend struct {
	id       string
	provider string
	text     string
	err      error
	delay    time.Duration
	calls    int
	healthy  bool
	lastSeen Prompt
}

func (f *fakeBackend) ID() string       { return f.id }
func (f *fakeBackend) Provider() string { return f.provider }

func (f *fakeBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	f.calls++
	f.lastSeen = prompt
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

func (f *fakeBackend) ListModels(ctx context.Context) error {
	if !f.healthy {
		return errors.New("unauthorized")
	}
	return nil
}

func TestNewRegistryLimits(t *testing.T) {
	var backends []Backend
	for i := 0; i < MaxBackends+1; i++ {
		backends = append(backends, &fakeBackend{id: fmt.Sprintf("b%d", i), provider: "groq"})
	}

	if _, err := NewRegistry(RegistryConfig{}, testLogger(), nil, backends...); err == nil {
		t.Error("Expected error for more than five backends")
	}
	if _, err := NewRegistry(RegistryConfig{}, testLogger(), nil, backends[:MaxBackends]...); err != nil {
		t.Errorf("Unexpected error for five backends: %v", err)
	}

	dup := []Backend{&fakeBackend{id: "a"}, &fakeBackend{id: "a"}}
	if _, err := NewRegistry(RegistryConfig{}, testLogger(), nil, dup...); err == nil {
		t.Error("Expected error for duplicate ids")
	}
}

func TestRegistryOrderAndProviders(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{}, testLogger(), nil,
		&fakeBackend{id: "groq_llama33_70b", provider: "groq"},
		&fakeBackend{id: "openrouter_gpt4o_mini", provider: "openrouter"},
		&fakeBackend{id: "groq_llama31_70b", provider: "groq"},
	)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	ids := r.IDs()
	if strings.Join(ids, ",") != "groq_llama33_70b,openrouter_gpt4o_mini,groq_llama31_70b" {
		t.Errorf("Unexpected id order: %v", ids)
	}
	if got := strings.Join(r.Providers(), ","); got != "groq,openrouter" {
		t.Errorf("Unexpected providers: %s", got)
	}
}

func TestInvokeSuccess(t *testing.T) {
	b := &fakeBackend{id: "groq", text: "  fixed text \n"}
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	r, _ := NewRegistry(RegistryConfig{}, testLogger(), m, b)

	prompt := Prompt{System: "sys", User: "raw text", MaxTokens: 600, Temperature: 0.1}
	result := r.Invoke(context.Background(), "groq", prompt, "raw text")

	if !result.Success || !result.OK() {
		t.Fatalf("Expected success, got %+v", result)
	}
	if result.Text != "fixed text" {
		t.Errorf("Expected trimmed text, got %q", result.Text)
	}
	if result.OriginalLength != len("raw text") || result.ImprovedLength != len("fixed text") {
		t.Errorf("Unexpected lengths %d/%d", result.OriginalLength, result.ImprovedLength)
	}
	if b.lastSeen != prompt {
		t.Errorf("Prompt not forwarded: %+v", b.lastSeen)
	}
	if got := testutil.ToFloat64(m.BackendCalls.WithLabelValues("groq", "success")); got != 1 {
		t.Errorf("Expected success metric, got %f", got)
	}
}

func TestInvokeFailuresNeverRetry(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		id      string
		wantErr string
	}{
		{"transport error", &fakeBackend{id: "a", err: errors.New("connection reset")}, "a", "connection reset"},
		{"empty response", &fakeBackend{id: "a", text: "   "}, "a", "no choices"},
		{"unknown id", &fakeBackend{id: "a"}, "missing", "unknown backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := NewRegistry(RegistryConfig{}, testLogger(), nil, tt.backend)
			result := r.Invoke(context.Background(), tt.id, Prompt{User: "x"}, "x")

			if result.Success {
				t.Fatal("Expected failure")
			}
			if !strings.Contains(result.Error, tt.wantErr) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErr, result.Error)
			}
			if result.BackendID != tt.id {
				t.Errorf("Expected backend id %s, got %s", tt.id, result.BackendID)
			}
			if tt.backend.calls > 1 {
				t.Errorf("Expected at most one call, got %d", tt.backend.calls)
			}
		})
	}
}

func TestInvokeTimeout(t *testing.T) {
	b := &fakeBackend{id: "slow", text: "late", delay: time.Second}
	r, _ := NewRegistry(RegistryConfig{
		DefaultTimeout: time.Second,
		Timeouts:       map[string]time.Duration{"slow": 20 * time.Millisecond},
	}, testLogger(), nil, b)

	start := time.Now()
	result := r.Invoke(context.Background(), "slow", Prompt{User: "x"}, "x")
	if result.Success {
		t.Fatal("Expected timeout failure")
	}
	if !strings.Contains(result.Error, "deadline exceeded") {
		t.Errorf("Expected deadline error, got %q", result.Error)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("Timeout was not applied")
	}
}

func TestHealthCheckAll(t *testing.T) {
	r, _ := NewRegistry(RegistryConfig{}, testLogger(), nil,
		&fakeBackend{id: "up", healthy: true},
		&fakeBackend{id: "down"},
	)

	health := r.HealthCheckAll(context.Background())
	if !health["up"] || health["down"] {
		t.Errorf("Unexpected health map: %v", health)
	}
	if r.HealthCheck(context.Background(), "missing") {
		t.Error("Unknown backend must not be healthy")
	}
}
