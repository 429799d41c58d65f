package provider

import (
	"fmt"
	"strings"
)

// Factory builds a Provider for a "providerType:modelName" spec, e.g.
// "anthropic:claude-sonnet-4-5-20250929" or
// "bedrock:claude-sonnet-4-20250514".
type Factory struct {
	AnthropicConfig AnthropicConfig
}

// Resolve parses spec and returns a bound Provider. The providerType
// prefix selects the backend; everything after the first colon is the
// model name passed to that backend.
func (f *Factory) Resolve(spec string) (Provider, error) {
	providerType, model, ok := strings.Cut(spec, ":")
	if !ok {
		return nil, fmt.Errorf("provider: malformed spec %q, want \"type:model\"", spec)
	}

	switch providerType {
	case "anthropic":
		cfg := f.AnthropicConfig
		cfg.Model = model
		cfg.UseAWSBedrock = false
		return NewAnthropicProvider(cfg)
	case "bedrock":
		cfg := f.AnthropicConfig
		cfg.Model = model
		cfg.UseAWSBedrock = true
		return NewAnthropicProvider(cfg)
	default:
		return nil, &ErrUnknownProviderType{ProviderType: providerType}
	}
}
