// Package provider abstracts LLM backends behind a single
// generate-a-prompt interface, so the voting and planning layers never
// depend on a specific vendor SDK.
package provider

import (
	"context"
	"fmt"
)

// Usage reports token consumption for one Generate call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Result is the outcome of one Generate call.
type Result struct {
	Content string
	Usage   Usage
	Model   string
}

// Options configures a single Generate call.
type Options struct {
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int64
}

// Provider generates text completions for a bound model.
type Provider interface {
	// Generate runs prompt through the provider's model and returns its
	// text output along with token usage.
	Generate(ctx context.Context, prompt string, opts Options) (Result, error)

	// Model returns the model name this Provider is bound to.
	Model() string
}

// ModelLister is implemented by Providers that can enumerate the
// models available from their backend.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ErrUnknownProviderType indicates a "providerType:modelName" spec
// named a provider type with no registered factory.
type ErrUnknownProviderType struct {
	ProviderType string
}

func (e *ErrUnknownProviderType) Error() string {
	return fmt.Sprintf("provider: unknown provider type %q", e.ProviderType)
}
