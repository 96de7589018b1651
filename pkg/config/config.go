// Package config provides layered configuration for planforge: embedded
// defaults, an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Supported model providers.
const (
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// API key environment variables.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
)

// MaxQuestionsLimit is the hard ceiling on clarification questions.
const MaxQuestionsLimit = 3

// Config is the full runtime configuration.
type Config struct {
	Model    ModelConfig    `koanf:"model"`
	Clarify  ClarifyConfig  `koanf:"clarify"`
	Scaffold ScaffoldConfig `koanf:"scaffold"`
	Server   ServerConfig   `koanf:"server"`
	Store    StoreConfig    `koanf:"store"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// ModelConfig selects and tunes the model backend behind the gateway.
type ModelConfig struct {
	Provider          string        `koanf:"provider"` // empty = infer from name
	Name              string        `koanf:"name"`
	Host              string        `koanf:"host"` // ollama only
	Temperature       float64       `koanf:"temperature"`
	MaxTokens         int           `koanf:"max_tokens"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
	MaxConcurrency    int           `koanf:"max_concurrency"`
}

// ClarifyConfig bounds the clarification step.
type ClarifyConfig struct {
	MaxQuestions   int `koanf:"max_questions"`
	MaxPitchTokens int `koanf:"max_pitch_tokens"`
}

// ScaffoldConfig controls repository generation.
type ScaffoldConfig struct {
	OutputRoot string `koanf:"output_root"`
	DryRun     bool   `koanf:"dry_run"`
	// Blueprint asks the model for repository files before the templates run.
	Blueprint bool `koanf:"blueprint"`
}

// ServerConfig controls the HTTP server and session lifetime.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	SessionTTL      time.Duration `koanf:"session_ttl"`
	SweepInterval   time.Duration `koanf:"sweep_interval"`
}

// StoreConfig controls session persistence. With both fields empty sessions
// live in memory only; SQLitePath wins when both are set.
type StoreConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
	JSONDir    string `koanf:"json_dir"`
}

// MetricsConfig toggles Prometheus instrumentation.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from model names.
// Order matters: the first matching prefix wins.
//
//nolint:gochecknoglobals // static inference rules
var ProviderPatterns = []ProviderPattern{
	{"ollama:", ProviderOllama},
	{"gpt-oss", ProviderOllama},
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"gemma", ProviderOllama},
}

// GetModelProvider infers the provider for a model name.
func GetModelProvider(modelName string) (string, error) {
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no provider pattern matches; set model.provider", modelName)
}

// ResolvedProvider returns the explicit provider, or the one inferred from the model name.
func (m *ModelConfig) ResolvedProvider() (string, error) {
	if m.Provider != "" {
		return m.Provider, nil
	}
	return GetModelProvider(m.Name)
}

// ModelID returns the model name as the backend expects it.
func (m *ModelConfig) ModelID() string {
	return strings.TrimPrefix(m.Name, "ollama:")
}

// GetAPIKey returns the API key for a hosted provider from the environment.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		return "", nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s is not set", envVar)
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	var errs []error

	provider, err := c.Model.ResolvedProvider()
	switch {
	case err != nil:
		errs = append(errs, err)
	case !isKnownProvider(provider):
		errs = append(errs, fmt.Errorf("model.provider %q is not one of ollama, anthropic, openai, google", provider))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		errs = append(errs, fmt.Errorf("model.temperature %.2f must be between 0 and 2", c.Model.Temperature))
	}
	if c.Model.MaxTokens <= 0 {
		errs = append(errs, errors.New("model.max_tokens must be positive"))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}
	if c.Model.RequestsPerMinute < 0 || c.Model.MaxConcurrency < 0 {
		errs = append(errs, errors.New("model rate limits cannot be negative"))
	}
	if c.Clarify.MaxQuestions < 0 || c.Clarify.MaxQuestions > MaxQuestionsLimit {
		errs = append(errs, fmt.Errorf("clarify.max_questions must be between 0 and %d", MaxQuestionsLimit))
	}
	if c.Clarify.MaxPitchTokens <= 0 {
		errs = append(errs, errors.New("clarify.max_pitch_tokens must be positive"))
	}
	if c.Scaffold.OutputRoot == "" {
		errs = append(errs, errors.New("scaffold.output_root is required"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Server.SessionTTL < 0 || c.Server.SweepInterval < 0 {
		errs = append(errs, errors.New("server session_ttl and sweep_interval cannot be negative"))
	}

	return errors.Join(errs...)
}

func isKnownProvider(p string) bool {
	switch p {
	case ProviderOllama, ProviderAnthropic, ProviderOpenAI, ProviderGoogle:
		return true
	}
	return false
}
