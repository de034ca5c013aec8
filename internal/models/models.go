package models

import (
	"time"
)

// CompletionRequest represents a normalized text-generation request.
// Optional numeric fields are pointers so that an explicit zero can be told
// apart from an absent value.
type CompletionRequest struct {
	Prompt       string   `json:"prompt"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Context      string   `json:"context,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	RequestID    string   `json:"request_id,omitempty"`
}

// Message represents a single role/content pair sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Messages builds the ordered conversation for the request. The system
// prompt and free-form context are folded into one leading system message.
func (r CompletionRequest) Messages() []Message {
	var messages []Message
	if system := r.SystemText(); system != "" {
		messages = append(messages, Message{Role: "system", Content: system})
	}
	return append(messages, Message{Role: "user", Content: r.Prompt})
}

// SystemText joins the system prompt and context.
func (r CompletionRequest) SystemText() string {
	switch {
	case r.SystemPrompt != "" && r.Context != "":
		return r.SystemPrompt + "\n\nContext:\n" + r.Context
	case r.Context != "":
		return "Context:\n" + r.Context
	default:
		return r.SystemPrompt
	}
}

// ModelSpec describes one model offered by a provider.
type ModelSpec struct {
	Name             string  `json:"name" mapstructure:"name"`
	MaxTokens        int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature      float64 `json:"temperature" mapstructure:"temperature"`
	TopP             float64 `json:"top_p,omitempty" mapstructure:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty" mapstructure:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty" mapstructure:"presence_penalty"`
	CostPerToken     float64 `json:"cost_per_token" mapstructure:"cost_per_token"`
}

// CompletionResult represents a normalized successful completion.
type CompletionResult struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Model      string         `json:"model"`
	Provider   string         `json:"provider"`
	TokensUsed int            `json:"tokens_used"`
	Cost       float64        `json:"cost"`
	Latency    time.Duration  `json:"latency"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   ResultMetadata `json:"metadata"`
	Fallback   bool           `json:"fallback"`
	Attempts   int            `json:"attempts"`
}

// ResultMetadata carries optional details reported by the provider.
type ResultMetadata struct {
	FinishReason     string `json:"finish_reason,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

// ProviderStats holds cumulative per-provider totals.
type ProviderStats struct {
	Requests       int64         `json:"requests"`
	Tokens         int64         `json:"tokens"`
	Cost           float64       `json:"cost"`
	AverageLatency time.Duration `json:"average_latency"`
	Errors         int64         `json:"errors"`
	LastUsed       time.Time     `json:"last_used"`
}

// ProviderHealth represents the derived health state of a provider.
type ProviderHealth struct {
	Available      bool          `json:"available"`
	ErrorCount     int           `json:"error_count"`
	AverageLatency time.Duration `json:"average_latency"`
	LastCheck      time.Time     `json:"last_check"`
}

// ManagerStats aggregates statistics across all providers.
type ManagerStats struct {
	TotalRequests      int64                    `json:"total_requests"`
	SuccessfulRequests int64                    `json:"successful_requests"`
	Errors             int64                    `json:"errors"`
	TotalTokens        int64                    `json:"total_tokens"`
	TotalCost          float64                  `json:"total_cost"`
	AverageLatency     time.Duration            `json:"average_latency"`
	Fallbacks          int64                    `json:"fallbacks"`
	Providers          map[string]ProviderStats `json:"providers"`
}

// Estimate is the pre-dispatch cost estimate for a request.
type Estimate struct {
	Provider     string  `json:"provider"`
	Cost         float64 `json:"cost"`
	WithinBudget bool    `json:"within_budget"`
}
