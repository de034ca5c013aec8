package providers

import (
	"context"
	"strings"

	"github.com/semantrix/semaroute-router/internal/models"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

var openAIModels = []models.ModelSpec{
	{Name: "gpt-4o-mini", MaxTokens: 4096, Temperature: 0.7, TopP: 1, CostPerToken: 0.0000006},
	{Name: "gpt-4o", MaxTokens: 4096, Temperature: 0.7, TopP: 1, CostPerToken: 0.00001},
	{Name: "gpt-4-turbo", MaxTokens: 4096, Temperature: 0.7, TopP: 1, CostPerToken: 0.00003},
	{Name: "gpt-3.5-turbo", MaxTokens: 4096, Temperature: 0.7, TopP: 1, CostPerToken: 0.0000015},
}

// OpenAIProvider implements the Provider interface for OpenAI and for any
// service speaking the chat completions protocol.
type OpenAIProvider struct {
	*BaseProvider
	baseURL string
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int            `json:"index"`
	Message      models.Message `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewOpenAIProvider creates a new OpenAI provider instance.
func NewOpenAIProvider(config ProviderConfig) Provider {
	if config.Name == "" {
		config.Name = "openai"
	}
	return newChatProvider(config, openAIModels, defaultOpenAIBaseURL)
}

func newChatProvider(config ProviderConfig, defaults []models.ModelSpec, defaultBaseURL string) *OpenAIProvider {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(config, defaults),
		baseURL:      baseURL,
	}
}

// IsAvailable reports whether an OpenAI-style secret key is configured.
func (p *OpenAIProvider) IsAvailable() bool {
	return strings.HasPrefix(p.config.APIKey, "sk-")
}

// GenerateResponse creates a completion using the chat completions API.
func (p *OpenAIProvider) GenerateResponse(ctx context.Context, req models.CompletionRequest) (*models.CompletionResult, error) {
	return p.execute(ctx, req, func(ctx context.Context, spec models.ModelSpec) (*wireResult, error) {
		var resp chatCompletionResponse
		if err := p.postJSON(ctx, p.baseURL+"/chat/completions", p.headers(), p.convertToOpenAIRequest(req, spec), &resp); err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, p.newError(models.KindUnknown, "response contained no choices", false, nil)
		}

		choice := resp.Choices[0]
		return &wireResult{
			ID:               resp.ID,
			Text:             choice.Message.Content,
			Model:            resp.Model,
			FinishReason:     choice.FinishReason,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}, nil
	})
}

func (p *OpenAIProvider) headers() map[string]string {
	if p.config.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.config.APIKey}
}

// convertToOpenAIRequest merges the request onto the model defaults.
func (p *OpenAIProvider) convertToOpenAIRequest(req models.CompletionRequest, spec models.ModelSpec) map[string]interface{} {
	openAIReq := map[string]interface{}{
		"model":       spec.Name,
		"messages":    req.Messages(),
		"temperature": temperatureFor(req, spec),
	}

	if maxTokens := maxTokensFor(req, spec); maxTokens > 0 {
		openAIReq["max_tokens"] = maxTokens
	}
	if spec.TopP > 0 {
		openAIReq["top_p"] = spec.TopP
	}
	if spec.PresencePenalty != 0 {
		openAIReq["presence_penalty"] = spec.PresencePenalty
	}
	if spec.FrequencyPenalty != 0 {
		openAIReq["frequency_penalty"] = spec.FrequencyPenalty
	}
	if req.UserID != "" {
		openAIReq["user"] = req.UserID
	}

	return openAIReq
}
