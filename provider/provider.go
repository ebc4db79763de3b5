package provider

import (
	"context"
	"errors"

	"github.com/loliloopp/aizoomdoc-sub000/config"
	openai_provider "github.com/loliloopp/aizoomdoc-sub000/provider/openai"
)

// Role tags for conversation messages.
const (
	RoleSystem    = openai_provider.RoleSystem
	RoleUser      = openai_provider.RoleUser
	RoleAssistant = openai_provider.RoleAssistant
)

// Message is one role-tagged conversation message, optionally carrying images.
type Message = openai_provider.Message

// ImagePart is one inline image attached to a message, base64-encoded.
type ImagePart = openai_provider.ImagePart

// Usage reports token counters for a single model call.
type Usage = openai_provider.Usage

// Provider is the external model endpoint contract.
type Provider interface {
	// Chat sends role-tagged messages to the given model and returns the
	// generated text plus usage counters.
	Chat(ctx context.Context, model string, messages []Message) (string, Usage, error)
}

// IsContextLength reports whether err is the endpoint's declared
// context-length-exceeded failure. The orchestrator treats it as a signal
// to renegotiate the prompt, never as a run abort by itself.
func IsContextLength(err error) bool {
	var cle *openai_provider.ContextLengthError
	return errors.As(err, &cle)
}

// NewProvider creates a model client from configuration. A missing API key
// is a caller-fatal error: it fails here, before any run starts.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key not configured")
	}
	return openai_provider.NewClient(cfg.APIKey, cfg.BaseURL, cfg.Temperature, cfg.MaxTokens, cfg.Timeout), nil
}
