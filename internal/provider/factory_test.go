package provider

import (
	"errors"
	"testing"
)

func TestFactoryResolveAnthropic(t *testing.T) {
	f := &Factory{AnthropicConfig: AnthropicConfig{APIKey: "test-key"}}

	p, err := f.Resolve("anthropic:claude-sonnet-4-5-20250929")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Model() != "claude-sonnet-4-5-20250929" {
		t.Errorf("Model = %q, want %q", p.Model(), "claude-sonnet-4-5-20250929")
	}
}

func TestFactoryResolveUnknownType(t *testing.T) {
	f := &Factory{AnthropicConfig: AnthropicConfig{APIKey: "test-key"}}

	_, err := f.Resolve("openai:gpt-4")
	var unknown *ErrUnknownProviderType
	if !errors.As(err, &unknown) {
		t.Fatalf("expected ErrUnknownProviderType, got %v", err)
	}
}

func TestFactoryResolveMalformedSpec(t *testing.T) {
	f := &Factory{}

	_, err := f.Resolve("just-a-model-name")
	if err == nil {
		t.Fatal("expected error for malformed spec")
	}
}
