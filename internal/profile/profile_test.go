package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAIProfileDefaults checks the AI defaults when no environment is set.
func TestAIProfileDefaults(t *testing.T) {
	for _, key := range []string{
		"CHORUS_AI_ENABLED", "CHORUS_AI_LLM_PROVIDER", "CHORUS_AI_API_KEY", "CHORUS_AI_BASE_URL",
		"CHORUS_AI_LLM_MODEL", "CHORUS_AI_TITLE_MODEL", "CHORUS_AI_GENERATION_URL",
	} {
		t.Setenv(key, "")
	}

	profile := &Profile{}
	profile.FromEnv()

	assert.False(t, profile.AIEnabled)
	assert.Equal(t, "openai", profile.AILLMProvider)
	assert.Equal(t, "https://api.openai.com/v1", profile.AIBaseURL)
	assert.Equal(t, "gpt-4o-mini", profile.AILLMModel)
	assert.Equal(t, "gpt-4o-mini", profile.AITitleModel)
	assert.False(t, profile.IsAIEnabled())
}

// TestAIProfileFromEnv checks that environment variables override defaults.
func TestAIProfileFromEnv(t *testing.T) {
	t.Setenv("CHORUS_AI_ENABLED", "true")
	t.Setenv("CHORUS_AI_LLM_PROVIDER", "sse")
	t.Setenv("CHORUS_AI_GENERATION_URL", "http://localhost:9000/generate")
	t.Setenv("CHORUS_AI_LLM_MODEL", "deepseek-chat")
	t.Setenv("CHORUS_AI_TITLE_MODEL", "")

	profile := &Profile{}
	profile.FromEnv()

	assert.True(t, profile.AIEnabled)
	assert.Equal(t, "sse", profile.AILLMProvider)
	assert.Equal(t, "deepseek-chat", profile.AITitleModel)
	assert.True(t, profile.IsAIEnabled())
}

func TestValidate(t *testing.T) {
	t.Run("sqlite defaults", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Mode: "dev", Data: dir}
		require.NoError(t, p.Validate())

		assert.Equal(t, "sqlite", p.Driver)
		assert.Contains(t, p.DSN, "chorus_dev.db")
		assert.Equal(t, time.Second, p.PersistRetryDelay)
		assert.Equal(t, 10, p.AutoReply.ContextWindow)
	})

	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		p := &Profile{Mode: "weird", Data: t.TempDir()}
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "postgres"}
		assert.Error(t, p.Validate())
	})

	t.Run("duplicate agents", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: t.TempDir(), Agents: []*AgentProfile{
			{Username: "scribe"}, {Username: "scribe"},
		}}
		assert.ErrorContains(t, p.Validate(), "duplicate agent")
	})

	t.Run("missing data dir", func(t *testing.T) {
		p := &Profile{Mode: "dev", Data: "/definitely/not/here"}
		assert.Error(t, p.Validate())
	})
}
