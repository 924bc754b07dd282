package ai

import (
	"errors"
	"time"

	"github.com/hrygo/chorus/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Enabled bool

	LLM LLMConfig
}

// LLMConfig represents generation backend configuration.
type LLMConfig struct {
	Provider      string // openai, sse
	Model         string // gpt-4o-mini
	TitleModel    string // model used for short session titles
	APIKey        string
	BaseURL       string
	GenerationURL string // remote frame-protocol endpoint for the sse provider
	MaxTokens     int     // default: 2048
	Temperature   float32 // default: 0.7
	MaxRetries    int     // default: 3
	Timeout       time.Duration
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.AIEnabled,
	}

	if !cfg.Enabled {
		return cfg
	}

	cfg.LLM = LLMConfig{
		Provider:      p.AILLMProvider,
		Model:         p.AILLMModel,
		TitleModel:    p.AITitleModel,
		APIKey:        p.AIAPIKey,
		BaseURL:       p.AIBaseURL,
		GenerationURL: p.AIGenerationURL,
		MaxTokens:     2048,
		Temperature:   0.7,
		MaxRetries:    3,
		Timeout:       30 * time.Second,
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.TitleModel == "" {
		cfg.LLM.TitleModel = cfg.LLM.Model
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
			return errors.New("LLM API key or base URL is required")
		}
		if c.LLM.Model == "" {
			return errors.New("LLM model is required")
		}
	case "sse":
		if c.LLM.GenerationURL == "" {
			return errors.New("generation URL is required for the sse provider")
		}
	default:
		return errors.New("unsupported LLM provider: " + c.LLM.Provider)
	}

	return nil
}
