// Package config loads and validates taskforge configuration from
// files, environment variables, and defaults.
package config

import (
	"path/filepath"
	"time"
)

// Config is the root configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Data      DataConfig      `mapstructure:"data" yaml:"data"`
	Workspace WorkspaceConfig `mapstructure:"workspace" yaml:"workspace"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Provider  ProviderConfig  `mapstructure:"provider" yaml:"provider"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host        string   `mapstructure:"host" yaml:"host"`
	Port        int      `mapstructure:"port" yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// DataConfig controls on-disk state.
type DataConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DatabasePath returns the task database location under the data dir.
func (d DataConfig) DatabasePath() string {
	return filepath.Join(d.Dir, "tasks.db")
}

// WorkspaceConfig controls where task working copies live.
type WorkspaceConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// AgentConfig selects and tunes the default runner strategy.
type AgentConfig struct {
	Kind          string        `mapstructure:"kind" yaml:"kind"`
	Command       string        `mapstructure:"command" yaml:"command"`
	ExtraArgs     []string      `mapstructure:"extra_args" yaml:"extra_args"`
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	CycleTimeout  time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout"`
}

// ProviderConfig points the API runner at a chat-completions endpoint.
type ProviderConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Model      string `mapstructure:"model" yaml:"model"`
	APIKeyEnv  string `mapstructure:"api_key_env" yaml:"api_key_env"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// SessionConfig tunes orchestrator session timers.
type SessionConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	WarningLead time.Duration `mapstructure:"warning_lead" yaml:"warning_lead"`
	ExtendBy    time.Duration `mapstructure:"extend_by" yaml:"extend_by"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "auto"},
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080, CORSOrigins: []string{"http://localhost:5173"}},
		Data:   DataConfig{Dir: ".taskforge/data"},
		Workspace: WorkspaceConfig{
			Dir: ".taskforge/workspaces",
		},
		Agent: AgentConfig{
			Kind:          "api",
			Command:       "claude",
			MaxIterations: 50,
			CycleTimeout:  3 * time.Hour,
		},
		Provider: ProviderConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o",
			APIKeyEnv:  "TASKFORGE_API_KEY",
			MaxRetries: 3,
		},
		Session: SessionConfig{
			Timeout:     30 * time.Minute,
			WarningLead: 2 * time.Minute,
			ExtendBy:    15 * time.Minute,
		},
	}
}
