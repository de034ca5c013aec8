package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/semantrix/semaroute-router/internal/models"
)

// Provider defines the interface that all completion providers must implement.
type Provider interface {
	// Name returns the unique name identifier for this provider.
	Name() string

	// IsAvailable performs a cheap local check (credentials, endpoint).
	// It never performs network I/O.
	IsAvailable() bool

	// Models returns the provider's model catalog in registration order.
	Models() []models.ModelSpec

	// GenerateResponse validates the request, performs a single remote call
	// and normalizes the result. It never retries.
	GenerateResponse(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error)

	// CostEstimate returns the approximate cost of the request without
	// contacting the provider.
	CostEstimate(req models.CompletionRequest) (float64, error)

	// Stats returns a snapshot of the provider's usage counters.
	Stats() models.ProviderStats

	// ResetStats clears the usage counters.
	ResetStats()

	// Close performs any necessary cleanup when the provider is no longer needed.
	Close() error
}

// ProviderConfig holds common configuration for all providers.
type ProviderConfig struct {
	Name         string             `mapstructure:"name"`
	Type         string             `mapstructure:"type"`
	APIKey       string             `mapstructure:"api_key"`
	BaseURL      string             `mapstructure:"base_url"`
	Timeout      time.Duration      `mapstructure:"timeout" validate:"gte=0"`
	DefaultModel string             `mapstructure:"default_model"`
	Models       []models.ModelSpec `mapstructure:"models"`
	Enabled      bool               `mapstructure:"enabled"`
}

// BaseProvider provides the catalog, validation, cost and statistics logic
// shared by every adapter.
type BaseProvider struct {
	config  ProviderConfig
	client  *http.Client
	catalog []models.ModelSpec
	index   map[string]int

	mu    sync.Mutex
	stats models.ProviderStats
}

// NewBaseProvider creates a new base provider. Models from the configuration
// replace the adapter's built-in catalog when present.
func NewBaseProvider(config ProviderConfig, defaults []models.ModelSpec) *BaseProvider {
	catalog := defaults
	if len(config.Models) > 0 {
		catalog = config.Models
	}

	p := &BaseProvider{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		catalog: make([]models.ModelSpec, 0, len(catalog)),
		index:   make(map[string]int, len(catalog)),
	}
	for _, spec := range catalog {
		if _, exists := p.index[spec.Name]; exists {
			continue
		}
		p.index[spec.Name] = len(p.catalog)
		p.catalog = append(p.catalog, spec)
	}
	return p
}

// Name returns the provider name.
func (p *BaseProvider) Name() string {
	return p.config.Name
}

// Models returns a copy of the model catalog.
func (p *BaseProvider) Models() []models.ModelSpec {
	out := make([]models.ModelSpec, len(p.catalog))
	copy(out, p.catalog)
	return out
}

// ResolveModel returns the spec for the requested model. With no model
// requested, the configured default model is used, or else the first
// registered spec.
func (p *BaseProvider) ResolveModel(name string) (models.ModelSpec, error) {
	if name == "" {
		name = p.config.DefaultModel
	}
	if name == "" {
		if len(p.catalog) == 0 {
			return models.ModelSpec{}, p.newError(models.KindModelUnavailable, "provider has no models", false, nil)
		}
		return p.catalog[0], nil
	}

	i, ok := p.index[name]
	if !ok {
		return models.ModelSpec{}, p.newError(models.KindModelUnavailable, fmt.Sprintf("model %q not supported", name), false, nil)
	}
	return p.catalog[i], nil
}

// ValidateRequest checks the request before any network call.
func (p *BaseProvider) ValidateRequest(req models.CompletionRequest) error {
	if err := ValidateRequest(req); err != nil {
		err.Provider = p.Name()
		return err
	}
	return nil
}

// ValidateRequest checks the request fields shared by every provider.
func ValidateRequest(req models.CompletionRequest) *models.CompletionError {
	if req.Prompt == "" {
		return models.NewCompletionError(models.KindInvalidRequest, "prompt must not be empty", false, nil)
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return models.NewCompletionError(models.KindInvalidRequest, "max_tokens must be positive", false, nil)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return models.NewCompletionError(models.KindInvalidRequest, "temperature must be between 0.0 and 2.0", false, nil)
	}
	return nil
}

// CostEstimate returns the estimated cost of the request for the resolved
// model. It has no side effects.
func (p *BaseProvider) CostEstimate(req models.CompletionRequest) (float64, error) {
	spec, err := p.ResolveModel(req.Model)
	if err != nil {
		return 0, err
	}
	return float64(EstimateRequestTokens(req, spec)) * spec.CostPerToken, nil
}

// EstimateTokens approximates the token count of text as ceil(chars/4).
// This is a budgeting heuristic, not a tokenizer; for English prose it
// overestimates slightly more often than it underestimates.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len([]rune(text))) / 4))
}

// EstimateRequestTokens approximates the prompt tokens plus the output budget.
func EstimateRequestTokens(req models.CompletionRequest, spec models.ModelSpec) int {
	tokens := EstimateTokens(req.SystemText()) + EstimateTokens(req.Prompt)
	return tokens + maxTokensFor(req, spec)
}

// Stats returns a snapshot of the usage counters.
func (p *BaseProvider) Stats() models.ProviderStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ResetStats clears the usage counters.
func (p *BaseProvider) ResetStats() {
	p.mu.Lock()
	p.stats = models.ProviderStats{}
	p.mu.Unlock()
}

// RecordOutcome updates the usage counters after a call, successful or not.
func (p *BaseProvider) RecordOutcome(result *models.CompletionResult, latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Requests++
	p.stats.LastUsed = time.Now()
	if p.stats.AverageLatency == 0 {
		p.stats.AverageLatency = latency
	} else {
		p.stats.AverageLatency += (latency - p.stats.AverageLatency) / time.Duration(p.stats.Requests)
	}

	if err != nil {
		p.stats.Errors++
		if cerr := models.AsCompletionError(err); cerr.Cost > 0 {
			p.stats.Cost += cerr.Cost
		}
		return
	}
	p.stats.Tokens += int64(result.TokensUsed)
	p.stats.Cost += result.Cost
}

// Close performs cleanup for the base provider.
func (p *BaseProvider) Close() error {
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

func (p *BaseProvider) newError(kind models.ErrorKind, message string, retryable bool, err error) *models.CompletionError {
	cerr := models.NewCompletionError(kind, message, retryable, err)
	cerr.Provider = p.Name()
	return cerr
}

// transportError converts an http.Client failure into a completion error.
// A failure caused by the caller's own cancellation is not retryable.
func (p *BaseProvider) transportError(ctx context.Context, err error) *models.CompletionError {
	if ctx.Err() != nil {
		return p.newError(models.KindNetworkError, "request cancelled", false, ctx.Err())
	}
	return p.newError(models.KindNetworkError, "request failed", true, err)
}

// maxTokensFor merges the request override onto the model default.
func maxTokensFor(req models.CompletionRequest, spec models.ModelSpec) int {
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	return spec.MaxTokens
}

// temperatureFor merges the request override onto the model default.
func temperatureFor(req models.CompletionRequest, spec models.ModelSpec) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return spec.Temperature
}
