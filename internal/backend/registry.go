package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/meeting-audio-service/internal/metrics"
)

// MaxBackends is the largest number of remote backends a registry holds
const MaxBackends = 5

// RegistryConfig contains backend registry configuration
type RegistryConfig struct {
	DefaultTimeout time.Duration
	Timeouts       map[string]time.Duration // Per-backend overrides
	HealthTimeout  time.Duration
}

// Registry is an immutable set of named backends shared by all requests
type Registry struct {
	backends map[string]Backend
	order    []string
	config   RegistryConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewRegistry creates a registry over the given backends
func NewRegistry(config RegistryConfig, logger *slog.Logger, m *metrics.Metrics, backends ...Backend) (*Registry, error) {
	if len(backends) > MaxBackends {
		return nil, fmt.Errorf("at most %d backends are supported, got %d", MaxBackends, len(backends))
	}

	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 30 * time.Second
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 10 * time.Second
	}

	r := &Registry{
		backends: make(map[string]Backend, len(backends)),
		order:    make([]string, 0, len(backends)),
		config:   config,
		logger:   logger,
		metrics:  m,
	}

	for _, b := range backends {
		id := b.ID()
		if id == "" {
			return nil, fmt.Errorf("backend id cannot be empty")
		}
		if _, exists := r.backends[id]; exists {
			return nil, fmt.Errorf("duplicate backend id %q", id)
		}
		r.backends[id] = b
		r.order = append(r.order, id)
	}

	return r, nil
}

// IDs returns backend ids in registration order
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Providers returns the distinct providers in registration order
func (r *Registry) Providers() []string {
	seen := make(map[string]bool)
	var providers []string
	for _, id := range r.order {
		p := r.backends[id].Provider()
		if !seen[p] {
			seen[p] = true
			providers = append(providers, p)
		}
	}
	return providers
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.backends[id]
	return ok
}

// Timeout returns the per-call timeout applied to a backend
func (r *Registry) Timeout(id string) time.Duration {
	if t, ok := r.config.Timeouts[id]; ok && t > 0 {
		return t
	}
	return r.config.DefaultTimeout
}

// Invoke calls a backend once under its timeout. Every failure is folded
// into a CallResult with Success=false.
func (r *Registry) Invoke(ctx context.Context, id string, prompt Prompt, original string) CallResult {
	start := time.Now()
	result := CallResult{BackendID: id, OriginalLength: len(original)}

	b, ok := r.backends[id]
	if !ok {
		result.Error = (&BackendCallError{BackendID: id, Err: ErrUnknownBackend}).Error()
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, r.Timeout(id))
	defer cancel()

	text, err := b.Complete(callCtx, prompt)
	result.Duration = time.Since(start)

	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		callErr := &BackendCallError{BackendID: id, Err: err}
		result.Error = callErr.Error()

		r.metrics.RecordBackendCall(id, false, result.Duration)
		r.logger.Warn("Backend call failed",
			slog.String("backend", id),
			slog.Duration("duration", result.Duration),
			slog.String("error", err.Error()),
		)
		return result
	}

	result.Text = strings.TrimSpace(text)
	result.Success = true
	result.ImprovedLength = len(result.Text)

	r.metrics.RecordBackendCall(id, true, result.Duration)
	r.logger.Debug("Backend call completed",
		slog.String("backend", id),
		slog.Duration("duration", result.Duration),
		slog.Int("original_length", result.OriginalLength),
		slog.Int("improved_length", result.ImprovedLength),
	)
	return result
}

// HealthCheck lists the models of one backend. It is diagnostic only.
func (r *Registry) HealthCheck(ctx context.Context, id string) bool {
	b, ok := r.backends[id]
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.HealthTimeout)
	defer cancel()

	if err := b.ListModels(ctx); err != nil {
		r.logger.Warn("Backend health check failed",
			slog.String("backend", id),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// HealthCheckAll checks every backend concurrently
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	results := make(map[string]bool, len(r.order))
	var mu sync.Mutex
	var g errgroup.Group

	for _, id := range r.order {
		g.Go(func() error {
			healthy := r.HealthCheck(ctx, id)
			mu.Lock()
			results[id] = healthy
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return results
}
