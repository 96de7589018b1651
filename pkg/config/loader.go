package config

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "PLANFORGE_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

//go:embed defaults.yaml
var defaultsYAML []byte

// legacyEnv maps the environment names of the original CLI onto config keys.
//
//nolint:gochecknoglobals // static alias table
var legacyEnv = map[string]string{
	"OLLAMA_BASE_URL":    "model.host",
	"OLLAMA_MODEL":       "model.name",
	"OLLAMA_TEMPERATURE": "model.temperature",
	"AGENT_OUTPUT_ROOT":  "scaffold.output_root",
	"AGENT_DRY_RUN":      "scaffold.dry_run",
}

// Load builds the configuration.
//
// Precedence (highest to lowest):
//  1. PLANFORGE_* environment variables (PLANFORGE_MODEL_NAME -> model.name)
//  2. Legacy variables (OLLAMA_MODEL, AGENT_OUTPUT_ROOT, ...)
//  3. The YAML file at configPath, if configPath is non-empty
//  4. Embedded defaults
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment variables: %w", err)
	}

	// PLANFORGE_SERVER_SESSION_TTL -> server.session_ttl: split on the first
	// underscore only, field names keep theirs.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		parts := strings.SplitN(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", 2)
		if len(parts) == 1 {
			return parts[0]
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Default returns the embedded defaults, ignoring files and the environment.
func Default() *Config {
	k := koanf.New(".")
	var cfg Config
	if err := k.Load(rawbytes.Provider(defaultsYAML), yaml.Parser()); err != nil {
		panic(fmt.Sprintf("embedded defaults are invalid: %v", err))
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		panic(fmt.Sprintf("embedded defaults are invalid: %v", err))
	}
	return &cfg
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}
