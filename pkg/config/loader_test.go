package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "planforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "gpt-oss:latest", cfg.Model.Name)
	assert.Equal(t, "http://localhost:11434", cfg.Model.Host)
	assert.InDelta(t, 0.2, cfg.Model.Temperature, 1e-9)
	assert.Equal(t, 2*time.Minute, cfg.Model.Timeout)
	assert.Equal(t, 3, cfg.Clarify.MaxQuestions)
	assert.Equal(t, "generated_projects", cfg.Scaffold.OutputRoot)
	assert.False(t, cfg.Scaffold.DryRun)
	assert.True(t, cfg.Scaffold.Blueprint)
	assert.Equal(t, 24*time.Hour, cfg.Server.SessionTTL)
	assert.Empty(t, cfg.Store.SQLitePath)
	assert.True(t, cfg.Metrics.Enabled)

	provider, err := cfg.Model.ResolvedProvider()
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, provider)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  name: claude-sonnet-4-5
  timeout: 30s
clarify:
  max_questions: 2
scaffold:
  output_root: /tmp/out
  dry_run: true
  blueprint: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", cfg.Model.Name)
	assert.Equal(t, 30*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 4096, cfg.Model.MaxTokens)
	assert.Equal(t, 2, cfg.Clarify.MaxQuestions)
	assert.Equal(t, "/tmp/out", cfg.Scaffold.OutputRoot)
	assert.True(t, cfg.Scaffold.DryRun)
	assert.False(t, cfg.Scaffold.Blueprint)
}

func TestLoadEnvPrecedence(t *testing.T) {
	path := writeConfig(t, "model:\n  name: llama3\n")
	t.Setenv("OLLAMA_MODEL", "qwen2.5")
	t.Setenv("OLLAMA_TEMPERATURE", "0.7")
	t.Setenv("AGENT_DRY_RUN", "true")
	t.Setenv("AGENT_OUTPUT_ROOT", "legacy_out")
	t.Setenv("PLANFORGE_SCAFFOLD_OUTPUT_ROOT", "new_out")
	t.Setenv("PLANFORGE_SERVER_SESSION_TTL", "90m")
	t.Setenv("PLANFORGE_STORE_SQLITE_PATH", "/var/lib/planforge.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5", cfg.Model.Name, "legacy env beats file")
	assert.InDelta(t, 0.7, cfg.Model.Temperature, 1e-9)
	assert.True(t, cfg.Scaffold.DryRun)
	assert.Equal(t, "new_out", cfg.Scaffold.OutputRoot, "PLANFORGE_ beats legacy env")
	assert.Equal(t, 90*time.Minute, cfg.Server.SessionTTL)
	assert.Equal(t, "/var/lib/planforge.db", cfg.Store.SQLitePath)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(t.TempDir())
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "model: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "clarify:\n  max_questions: 5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_questions")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown model", func(c *Config) { c.Model.Name = "mystery-model" }, "unknown model"},
		{"bad provider", func(c *Config) { c.Model.Provider = "azure" }, "model.provider"},
		{"temperature", func(c *Config) { c.Model.Temperature = 3 }, "temperature"},
		{"timeout", func(c *Config) { c.Model.Timeout = 0 }, "model.timeout"},
		{"negative questions", func(c *Config) { c.Clarify.MaxQuestions = -1 }, "max_questions"},
		{"output root", func(c *Config) { c.Scaffold.OutputRoot = "" }, "output_root"},
		{"ttl", func(c *Config) { c.Server.SessionTTL = -time.Second }, "session_ttl"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestGetModelProvider(t *testing.T) {
	tests := map[string]string{
		"gpt-oss:latest":    ProviderOllama,
		"ollama:phi4":       ProviderOllama,
		"gpt-5":             ProviderOpenAI,
		"claude-sonnet-4-5": ProviderAnthropic,
		"gemini-2.5-pro":    ProviderGoogle,
		"llama3.1:8b":       ProviderOllama,
	}
	for model, want := range tests {
		got, err := GetModelProvider(model)
		require.NoError(t, err, model)
		assert.Equal(t, want, got, model)
	}

	m := ModelConfig{Name: "ollama:phi4"}
	assert.Equal(t, "phi4", m.ModelID())
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "sk-test")
	key, err := GetAPIKey(ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", key)

	t.Setenv(EnvGoogleAPIKey, "")
	_, err = GetAPIKey(ProviderGoogle)
	assert.Error(t, err)

	key, err = GetAPIKey(ProviderOllama)
	require.NoError(t, err)
	assert.Empty(t, key)

	_, err = GetAPIKey("azure")
	assert.Error(t, err)
}
