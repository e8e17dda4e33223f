package model

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/termpal/internal/config"
)

// New builds the client selected by cfg.Provider.Type.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	opts := OptionsFrom(cfg)
	switch cfg.Provider.Type {
	case config.ProviderAnthropic:
		return NewAnthropic(opts)
	case config.ProviderOpenAI:
		return NewOpenAI(opts)
	case config.ProviderGemini, "":
		return NewGemini(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}

// OptionsFrom maps configuration onto client options.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Model:       cfg.Agent.Model,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
	}
}
