package provider

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// Provider is the abstraction over LLM APIs.
type Provider interface {
	Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error)
	Name() string
}

// Config selects and authenticates a provider.
type Config struct {
	Provider string // openai (default) or anthropic
	Model    string
	APIKey   string
	BaseURL  string // OpenAI-compatible endpoints (OpenRouter, Groq, local gateways)
}

// New builds a langchaingo-backed provider from cfg.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("provider: openai: %w", err)
		}
		return NewLangChain("openai", llm), nil
	case "anthropic":
		opts := []anthropic.Option{anthropic.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		llm, err := anthropic.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("provider: anthropic: %w", err)
		}
		return NewLangChain("anthropic", llm), nil
	default:
		return nil, fmt.Errorf("provider: unsupported provider %q", cfg.Provider)
	}
}
