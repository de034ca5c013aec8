package providers

import (
	"strings"
	"time"

	"github.com/semantrix/semaroute-router/internal/models"
)

const (
	defaultGrokBaseURL = "https://api.x.ai/v1"
	defaultGrokTimeout = 120 * time.Second
)

var grokModels = []models.ModelSpec{
	{Name: "grok-3", MaxTokens: 8192, Temperature: 0.7, TopP: 1, CostPerToken: 0.000015},
	{Name: "grok-3-mini", MaxTokens: 8192, Temperature: 0.7, TopP: 1, CostPerToken: 0.0000005},
}

// GrokProvider implements the Provider interface for xAI's Grok models,
// which speak the chat completions protocol.
type GrokProvider struct {
	*OpenAIProvider
}

// NewGrokProvider creates a new Grok provider instance.
func NewGrokProvider(config ProviderConfig) Provider {
	if config.Name == "" {
		config.Name = "grok"
	}
	if config.Timeout == 0 {
		config.Timeout = defaultGrokTimeout
	}
	return &GrokProvider{OpenAIProvider: newChatProvider(config, grokModels, defaultGrokBaseURL)}
}

// IsAvailable reports whether an xAI key is configured.
func (p *GrokProvider) IsAvailable() bool {
	return strings.HasPrefix(p.config.APIKey, "xai-")
}
