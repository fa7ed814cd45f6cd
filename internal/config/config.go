// Package config loads the aiaim.yaml configuration file.
//
// Precedence (highest to lowest):
//  1. Environment variables with the AIAIM_ prefix (scalar fields only),
//     e.g. AIAIM_LOOP_MAX_ITERATIONS -> loop.max_iterations
//  2. The YAML config file
//  3. Generated defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

// FileName is the configuration file aiaim looks for, walking up from the
// working directory.
const FileName = "aiaim.yaml"

const maxConfigFileSize = 1024 * 1024 // 1MB

// Backend kinds accepted in the config.
const (
	BackendCursorCLI = "cursor-cli"
	BackendModelAPI  = "model-api"
	// BackendMock runs the bundled mockagent binary from PATH, for trying
	// the loop out without a real agent.
	BackendMock = "mock"
)

// Config represents the aiaim.yaml configuration file
type Config struct {
	Version string        `koanf:"version" yaml:"version"`
	Backend BackendConfig `koanf:"backend" yaml:"backend"`
	Loop    LoopConfig    `koanf:"loop" yaml:"loop"`
	Log     LogConfig     `koanf:"log" yaml:"log"`
}

// BackendConfig selects and parameterizes the agent execution backend
type BackendConfig struct {
	// Kind selects the backend: cursor-cli, model-api or mock.
	Kind string `koanf:"kind" yaml:"kind"`
	// Command is the argv prefix for the cursor-cli backend.
	Command []string `koanf:"command" yaml:"command"`
	Model   string   `koanf:"model" yaml:"model"`
	// TimeoutS bounds a single invocation in seconds; 0 means no limit.
	TimeoutS       int `koanf:"timeout_s" yaml:"timeout_s"`
	CreateTimeoutS int `koanf:"create_timeout_s" yaml:"create_timeout_s"`
	// BaseURL and APIKeyEnv configure the model-api backend. APIKeyEnv names
	// the environment variable holding the key, never the key itself.
	BaseURL   string `koanf:"base_url" yaml:"base_url"`
	APIKeyEnv string `koanf:"api_key_env" yaml:"api_key_env"`
}

// LoopConfig bounds the worker/supervisor iteration loop
type LoopConfig struct {
	MaxIterations int     `koanf:"max_iterations" yaml:"max_iterations"`
	DelayS        float64 `koanf:"delay_s" yaml:"delay_s"`
}

// LogConfig controls diagnostic output
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// Timeout returns the invocation timeout as a duration; zero means unbounded.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutS) * time.Second
}

// CreateTimeout returns the chat-creation timeout as a duration.
func (b BackendConfig) CreateTimeout() time.Duration {
	return time.Duration(b.CreateTimeoutS) * time.Second
}

// Delay returns the inter-iteration delay as a duration.
func (l LoopConfig) Delay() time.Duration {
	return time.Duration(l.DelayS * float64(time.Second))
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version: "1",
		Backend: BackendConfig{
			Kind:           BackendCursorCLI,
			Command:        []string{"cursor-cli"},
			Model:          "claude-4.5-opus-high-thinking",
			TimeoutS:       0,
			CreateTimeoutS: 30,
			APIKeyEnv:      "OPENAI_API_KEY",
		},
		Loop: LoopConfig{
			MaxIterations: 10,
			DelayS:        1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  version: \"1\"")
	}

	switch c.Backend.Kind {
	case BackendCursorCLI:
		if len(c.Backend.Command) == 0 {
			return fmt.Errorf("configuration error: backend 'cursor-cli' has empty 'command' field\n\nHint: Specify the agent CLI to run:\n  backend:\n    command: [\"cursor-cli\"]")
		}
	case BackendModelAPI:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("configuration error: backend 'model-api' requires 'base_url'\n\nHint: Point at an OpenAI-compatible endpoint:\n  backend:\n    base_url: \"https://api.openai.com/v1\"")
		}
		if c.Backend.Model == "" {
			return fmt.Errorf("configuration error: backend 'model-api' requires 'model'\n\nHint: Name the model to invoke:\n  backend:\n    model: \"gpt-4o\"")
		}
	case BackendMock:
		// Nothing to configure: the command is fixed and everything else
		// is optional.
	default:
		return fmt.Errorf("configuration error: unknown backend kind %q\n\nHint: Valid kinds are %q, %q and %q", c.Backend.Kind, BackendCursorCLI, BackendModelAPI, BackendMock)
	}

	if c.Backend.TimeoutS < 0 {
		return fmt.Errorf("configuration error: 'backend.timeout_s' must not be negative: %d", c.Backend.TimeoutS)
	}
	if c.Backend.CreateTimeoutS <= 0 {
		return fmt.Errorf("configuration error: 'backend.create_timeout_s' must be positive: %d\n\nHint: 30 seconds is a sensible default", c.Backend.CreateTimeoutS)
	}

	if c.Loop.MaxIterations < 1 {
		return fmt.Errorf("configuration error: invalid 'loop.max_iterations' value: %d\n\nHint: The loop needs at least one iteration:\n  loop:\n    max_iterations: 10", c.Loop.MaxIterations)
	}
	if c.Loop.DelayS < 0 {
		return fmt.Errorf("configuration error: 'loop.delay_s' must not be negative: %v", c.Loop.DelayS)
	}

	return nil
}

// Load reads the config file at path, overlays AIAIM_ environment variables
// and validates the result. A missing file yields the defaults (still subject
// to env overrides).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		info, err := os.Stat(path)
		if err == nil && info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		}

		content, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err == nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	// AIAIM_BACKEND_MODEL -> backend.model, AIAIM_LOOP_DELAY_S -> loop.delay_s.
	// Split on the first underscore only: section, then field name.
	if err := k.Load(env.Provider("AIAIM_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "AIAIM_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := GenerateDefault()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveToFile writes the configuration as YAML with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	data, err := goyaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	data = append([]byte("# aiaim configuration\n"), data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}

// FindInTree walks up from startDir looking for the config file.
// Returns the empty string when no config file exists along the path.
func FindInTree(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve directory: %w", err)
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}
