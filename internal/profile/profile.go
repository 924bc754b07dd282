package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where chorus stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// Secret signs and verifies API access tokens.
	Secret string

	// AI Configuration
	AIEnabled     bool   // CHORUS_AI_ENABLED
	AILLMProvider string // CHORUS_AI_LLM_PROVIDER (default: openai). "sse" streams from AIGenerationURL.
	AIAPIKey      string // CHORUS_AI_API_KEY
	AIBaseURL     string // CHORUS_AI_BASE_URL (default: https://api.openai.com/v1)
	AILLMModel    string // CHORUS_AI_LLM_MODEL (default: gpt-4o-mini)
	AITitleModel  string // CHORUS_AI_TITLE_MODEL (default: AILLMModel)
	// AIGenerationURL is the endpoint of a remote generation service speaking the frame protocol.
	AIGenerationURL string // CHORUS_AI_GENERATION_URL

	// RenderMarkdown converts agent markdown output to HTML markup before persisting.
	RenderMarkdown bool
	// PersistRetryDelay is the pause before the single persistence retry of an agent reply.
	PersistRetryDelay time.Duration

	// Agents are the autonomous participants and their channel affinities.
	Agents []*AgentProfile
	// AutoReply tunes the auto-reply engine.
	AutoReply AutoReplyProfile
}

// AgentProfile describes one autonomous participant.
type AgentProfile struct {
	Username     string   `mapstructure:"username"`
	DisplayName  string   `mapstructure:"display_name"`
	SystemPrompt string   `mapstructure:"system_prompt"`
	Model        string   `mapstructure:"model"`
	Channels     []string `mapstructure:"channels"`
	// When is an optional CEL condition gating the channel affinity rule.
	When string `mapstructure:"when"`
}

// AutoReplyProfile holds auto-reply engine settings.
type AutoReplyProfile struct {
	// ContextWindow is the number of recent messages given to a triggered turn.
	ContextWindow int `mapstructure:"context_window"`
	// MaxConcurrent bounds simultaneously running auto-reply turns.
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// RatePerMinute limits how often a single participant may be triggered.
	RatePerMinute int `mapstructure:"rate_per_minute"`
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if AI is enabled and a generation backend is configured.
func (p *Profile) IsAIEnabled() bool {
	if !p.AIEnabled {
		return false
	}
	if p.AILLMProvider == "sse" {
		return p.AIGenerationURL != ""
	}
	return p.AIAPIKey != "" || p.AIBaseURL != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads AI configuration from environment variables.
func (p *Profile) FromEnv() {
	p.AIEnabled = os.Getenv("CHORUS_AI_ENABLED") == "true"
	p.AILLMProvider = getEnvOrDefault("CHORUS_AI_LLM_PROVIDER", "openai")
	p.AIAPIKey = os.Getenv("CHORUS_AI_API_KEY")
	p.AIBaseURL = getEnvOrDefault("CHORUS_AI_BASE_URL", "https://api.openai.com/v1")
	p.AILLMModel = getEnvOrDefault("CHORUS_AI_LLM_MODEL", "gpt-4o-mini")
	p.AITitleModel = getEnvOrDefault("CHORUS_AI_TITLE_MODEL", p.AILLMModel)
	p.AIGenerationURL = os.Getenv("CHORUS_AI_GENERATION_URL")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/chorus"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("chorus_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for the postgres driver")
	}

	if p.PersistRetryDelay <= 0 {
		p.PersistRetryDelay = time.Second
	}
	if p.AutoReply.ContextWindow <= 0 {
		p.AutoReply.ContextWindow = 10
	}
	if p.AutoReply.MaxConcurrent <= 0 {
		p.AutoReply.MaxConcurrent = 8
	}
	if p.AutoReply.RatePerMinute <= 0 {
		p.AutoReply.RatePerMinute = 20
	}

	seen := make(map[string]bool, len(p.Agents))
	for _, agent := range p.Agents {
		if agent.Username == "" {
			return errors.New("agent username is required")
		}
		if seen[agent.Username] {
			return errors.Errorf("duplicate agent username: %s", agent.Username)
		}
		seen[agent.Username] = true
	}

	return nil
}
