// Package v1 defines the JSON shapes of the public HTTP API.
package v1

import (
	"time"
)

// CompletionRequest represents a completion request from a client.
type CompletionRequest struct {
	Prompt       string   `json:"prompt"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Context      string   `json:"context,omitempty"`
	User         string   `json:"user,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	RequestID    string   `json:"request_id,omitempty"`
}

// CompletionResponse represents a successful completion.
type CompletionResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	Usage     Usage     `json:"usage"`
	Cost      float64   `json:"cost"`
	LatencyMs int64     `json:"latency_ms"`
	Fallback  bool      `json:"fallback"`
	Attempts  int       `json:"attempts"`
	Created   time.Time `json:"created"`
	RequestID string    `json:"request_id,omitempty"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
}

// EstimateResponse is the pre-dispatch cost estimate for a request.
type EstimateResponse struct {
	Provider     string  `json:"provider"`
	Cost         float64 `json:"cost"`
	WithinBudget bool    `json:"within_budget"`
	Spent        float64 `json:"spent"`
	// Remaining is -1 when no limit is configured.
	Remaining float64 `json:"remaining"`
}

// ErrorResponse represents an error response from the API.
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

// ErrorDetails provides detailed error information.
type ErrorDetails struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Provider   string `json:"provider,omitempty"`
	StatusCode int    `json:"status_code"`
	Retryable  bool   `json:"retryable"`
}

// HealthResponse represents the service health.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    string                    `json:"uptime"`
	Version   string                    `json:"version"`
	Providers map[string]ProviderHealth `json:"providers"`
}

// ProviderHealth represents the health of a single provider.
type ProviderHealth struct {
	Status     string    `json:"status"`
	Configured bool      `json:"configured"`
	ErrorCount int       `json:"error_count"`
	LatencyMs  int64     `json:"latency_ms"`
	LastCheck  time.Time `json:"last_check,omitempty"`
}

// ModelsResponse lists the models of every registered provider.
type ModelsResponse struct {
	Models    []ModelInfo `json:"models"`
	Total     int         `json:"total"`
	Providers []string    `json:"providers"`
}

// ModelInfo describes a model offered by a provider.
type ModelInfo struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
	CostPerToken float64 `json:"cost_per_token"`
}

// StatsResponse aggregates request statistics.
type StatsResponse struct {
	TotalRequests      int64                    `json:"total_requests"`
	SuccessfulRequests int64                    `json:"successful_requests"`
	Errors             int64                    `json:"errors"`
	ErrorRate          float64                  `json:"error_rate"`
	TotalTokens        int64                    `json:"total_tokens"`
	TotalCost          float64                  `json:"total_cost"`
	AverageLatencyMs   int64                    `json:"average_latency_ms"`
	Fallbacks          int64                    `json:"fallbacks"`
	Spent              float64                  `json:"spent"`
	CostLimit          float64                  `json:"cost_limit"`
	Providers          map[string]ProviderStats `json:"providers"`
	Timestamp          time.Time                `json:"timestamp"`
}

// ProviderStats holds per-provider totals.
type ProviderStats struct {
	Requests         int64     `json:"requests"`
	Tokens           int64     `json:"tokens"`
	Cost             float64   `json:"cost"`
	Errors           int64     `json:"errors"`
	AverageLatencyMs int64     `json:"average_latency_ms"`
	LastUsed         time.Time `json:"last_used,omitempty"`
}

// ProviderInfo describes a registered provider for the admin API.
type ProviderInfo struct {
	Name   string         `json:"name"`
	Health ProviderHealth `json:"health"`
	Models []string       `json:"models"`
}

// ProvidersResponse lists the registered providers.
type ProvidersResponse struct {
	Providers     []ProviderInfo `json:"providers"`
	RoutingPolicy string         `json:"routing_policy"`
	// Set only under the failover policy.
	PrimaryProvider string   `json:"primary_provider,omitempty"`
	BackupProviders []string `json:"backup_providers,omitempty"`
}
