package providers

// CompatibleProvider talks to any self-hosted or third-party server that
// exposes the chat completions protocol. The API key is optional.
type CompatibleProvider struct {
	*OpenAIProvider
}

// NewCompatibleProvider creates a provider for an OpenAI-compatible endpoint.
// The model catalog must come from the configuration.
func NewCompatibleProvider(config ProviderConfig) Provider {
	if config.Name == "" {
		config.Name = "compatible"
	}
	return &CompatibleProvider{OpenAIProvider: newChatProvider(config, nil, "")}
}

// IsAvailable reports whether an endpoint and at least one model are configured.
func (p *CompatibleProvider) IsAvailable() bool {
	return p.baseURL != "" && len(p.catalog) > 0
}
