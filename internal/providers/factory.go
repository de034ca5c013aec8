package providers

import (
	"fmt"
)

// New creates a provider from its configuration. The adapter is chosen by
// Type, falling back to Name for the well-known providers.
func New(config ProviderConfig) (Provider, error) {
	kind := config.Type
	if kind == "" {
		kind = config.Name
	}

	switch kind {
	case "openai":
		return NewOpenAIProvider(config), nil
	case "anthropic":
		return NewAnthropicProvider(config), nil
	case "grok", "xai":
		return NewGrokProvider(config), nil
	case "compatible":
		return NewCompatibleProvider(config), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", kind)
	}
}
