// Package config provides configuration management for lldb-agent.
//
// Configuration controls:
//   - Debugger settings: lldb path, inspected target, source file, command timeout
//     and the policy applied when a command times out
//   - Model settings: OpenAI-compatible endpoint, API key and model name
//   - Logging: level, format and destination
//
// Configuration can be loaded from a JSON or TOML file or use sensible defaults.
// The API key can also be supplied through the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ctagard/lldb-agent/internal/errors"
)

// TimeoutPolicy decides what a command timeout means for the session
type TimeoutPolicy string

const (
	// TimeoutKeepWaiting treats the session as slow: the late response is
	// drained before the next command is admitted.
	TimeoutKeepWaiting TimeoutPolicy = "keep_waiting"
	// TimeoutCrash treats the session as dead: the process is killed and the
	// session moves to Crashed.
	TimeoutCrash TimeoutPolicy = "crash"
)

// Environment variables consulted for the model API key, in order
var apiKeyEnv = []string{"LLDB_AGENT_API_KEY", "OPENROUTER_API_KEY"}

// Duration is a time.Duration encoded as a string ("10s") in config files
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the application configuration
type Config struct {
	Debugger DebuggerConfig `json:"debugger" toml:"debugger"`
	Model    ModelConfig    `json:"model" toml:"model"`
	Log      LogConfig      `json:"log" toml:"log"`
}

// DebuggerConfig holds lldb-specific configuration
type DebuggerConfig struct {
	Path                  string        `json:"path" toml:"path"`                                     // Path to the lldb binary
	Target                string        `json:"target" toml:"target"`                                 // Inspected executable
	SourceFile            string        `json:"sourceFile" toml:"source_file"`                        // File name used in breakpoint commands
	SourcePath            string        `json:"sourcePath" toml:"source_path"`                        // Source returned by get_source_code
	CommandTimeout        Duration      `json:"commandTimeout" toml:"command_timeout"`                // Bound on one command, counted from submission
	StartTimeout          Duration      `json:"startTimeout" toml:"start_timeout"`                    // Bound on spawn + symbol loading
	TimeoutPolicy         TimeoutPolicy `json:"timeoutPolicy" toml:"timeout_policy"`                  // keep_waiting or crash
	SentinelCommand       string        `json:"sentinelCommand" toml:"sentinel_command"`              // fmt template printing its %s argument
	StderrSentinelCommand string        `json:"stderrSentinelCommand" toml:"stderr_sentinel_command"` // same, on stderr
}

// ModelConfig holds the language model endpoint configuration
type ModelConfig struct {
	BaseURL string `json:"baseURL" toml:"base_url"`
	APIKey  string `json:"apiKey" toml:"api_key"`
	Model   string `json:"model" toml:"model"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"` // text or json
	File   string `json:"file" toml:"file"`     // empty means stderr
}

// findLLDB searches for lldb in common locations across platforms
func findLLDB() string {
	if path, err := exec.LookPath("lldb"); err == nil {
		return path
	}

	locations := []string{
		// macOS - Xcode Command Line Tools and Xcode.app
		"/Library/Developer/CommandLineTools/usr/bin/lldb",
		"/Applications/Xcode.app/Contents/Developer/usr/bin/lldb",
		"/opt/homebrew/opt/llvm/bin/lldb",

		// Linux - versioned LLVM packages
		"/usr/bin/lldb-18",
		"/usr/bin/lldb-17",
		"/usr/bin/lldb-16",
		"/usr/lib/llvm-18/bin/lldb",
		"/usr/lib/llvm-17/bin/lldb",
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	// Fall back to default name (will fail if not in PATH, but provides clear error)
	return "lldb"
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Debugger: DebuggerConfig{
			Path:                  findLLDB(),
			Target:                filepath.Join("test_program", "game"),
			SourceFile:            "game.c",
			SourcePath:            filepath.Join("test_program", "game.c"),
			CommandTimeout:        Duration(10 * time.Second),
			StartTimeout:          Duration(30 * time.Second),
			TimeoutPolicy:         TimeoutKeepWaiting,
			SentinelCommand:       `script print("%s")`,
			StderrSentinelCommand: `script import sys; print("%s", file=sys.stderr)`,
		},
		Model: ModelConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "openai/gpt-4o-mini",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a JSON or TOML file.
// The format is chosen by extension; anything but .toml is read as JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if c.Model.APIKey != "" {
		return
	}
	for _, name := range apiKeyEnv {
		if v := os.Getenv(name); v != "" {
			c.Model.APIKey = v
			return
		}
	}
}

// Validate checks the configuration for values the rest of the program cannot work with
func (c *Config) Validate() error {
	d := c.Debugger
	if d.Path == "" {
		return errors.ConfigInvalid("debugger.path", "must not be empty")
	}
	if d.Target == "" {
		return errors.ConfigInvalid("debugger.target", "must not be empty")
	}
	if d.SourceFile == "" {
		return errors.ConfigInvalid("debugger.sourceFile", "must not be empty")
	}
	if d.CommandTimeout <= 0 {
		return errors.ConfigInvalid("debugger.commandTimeout", "must be positive")
	}
	if d.StartTimeout <= 0 {
		return errors.ConfigInvalid("debugger.startTimeout", "must be positive")
	}
	switch d.TimeoutPolicy {
	case TimeoutKeepWaiting, TimeoutCrash:
	default:
		return errors.ConfigInvalid("debugger.timeoutPolicy", fmt.Sprintf("unknown policy %q (want keep_waiting or crash)", d.TimeoutPolicy))
	}
	if strings.Count(d.SentinelCommand, "%s") != 1 {
		return errors.ConfigInvalid("debugger.sentinelCommand", "must contain exactly one %s")
	}
	if strings.Count(d.StderrSentinelCommand, "%s") != 1 {
		return errors.ConfigInvalid("debugger.stderrSentinelCommand", "must contain exactly one %s")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.ConfigInvalid("log.format", "must be text or json")
	}
	return nil
}

// HasModel returns true if a model API key is configured
func (c *Config) HasModel() bool {
	return c.Model.APIKey != ""
}
