package providers

import (
	"context"
	"strings"

	"github.com/semantrix/semaroute-router/internal/models"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	anthropicVersion        = "2023-06-01"
)

var anthropicModels = []models.ModelSpec{
	{Name: "claude-3-haiku-20240307", MaxTokens: 4096, Temperature: 0.7, TopP: 1, CostPerToken: 0.00000125},
	{Name: "claude-3-5-sonnet-20241022", MaxTokens: 8192, Temperature: 0.7, TopP: 1, CostPerToken: 0.000015},
	{Name: "claude-3-opus-20240229", MaxTokens: 4096, Temperature: 0.7, TopP: 1, CostPerToken: 0.000075},
}

// AnthropicProvider implements the Provider interface for Anthropic.
type AnthropicProvider struct {
	*BaseProvider
	baseURL string
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewAnthropicProvider creates a new Anthropic provider instance.
func NewAnthropicProvider(config ProviderConfig) Provider {
	if config.Name == "" {
		config.Name = "anthropic"
	}
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider(config, anthropicModels),
		baseURL:      baseURL,
	}
}

// IsAvailable reports whether an Anthropic key is configured.
func (p *AnthropicProvider) IsAvailable() bool {
	return strings.HasPrefix(p.config.APIKey, "sk-ant-")
}

// GenerateResponse creates a completion using Anthropic's messages API.
func (p *AnthropicProvider) GenerateResponse(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error) {
	return p.execute(ctx, req, func(ctx context.Context, spec models.ModelSpec) (*wireResult, error) {
		headers := map[string]string{
			"x-api-key":         p.config.APIKey,
			"anthropic-version": anthropicVersion,
		}

		var resp anthropicResponse
		if err := p.postJSON(ctx, p.baseURL+"/messages", headers, p.convertToAnthropicRequest(req, spec), &resp); err != nil {
			return nil, err
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		if text.Len() == 0 {
			return nil, p.newError(models.KindUnknown, "response contained no text content", false, nil)
		}

		return &wireResult{
			ID:               resp.ID,
			Text:             text.String(),
			Model:            resp.Model,
			FinishReason:     resp.StopReason,
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		}, nil
	})
}

// convertToAnthropicRequest builds the messages API body. Anthropic takes
// the system text as a top-level field and has no frequency or presence
// penalties, so those are omitted.
func (p *AnthropicProvider) convertToAnthropicRequest(req models.CompletionRequest, spec models.ModelSpec) map[string]interface{} {
	anthropicReq := map[string]interface{}{
		"model":       spec.Name,
		"messages":    []models.Message{{Role: "user", Content: req.Prompt}},
		"max_tokens":  maxTokensFor(req, spec),
		"temperature": temperatureFor(req, spec),
	}

	if system := req.SystemText(); system != "" {
		anthropicReq["system"] = system
	}
	if spec.TopP > 0 && spec.TopP < 1 {
		anthropicReq["top_p"] = spec.TopP
	}

	return anthropicReq
}
