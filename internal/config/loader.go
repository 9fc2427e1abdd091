package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads configuration from file, environment, and defaults.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a loader with the standard search paths.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "TASKFORGE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFileUsed returns the config file viper resolved, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load reads configuration from all sources.
// Precedence (highest to lowest):
// 1. Environment variables (TASKFORGE_*)
// 2. Project config (.taskforge.yaml in current directory)
// 3. User config (~/.config/taskforge/config.yaml)
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".taskforge")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "taskforge"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	def := Default()

	l.v.SetDefault("log.level", def.Log.Level)
	l.v.SetDefault("log.format", def.Log.Format)

	l.v.SetDefault("server.host", def.Server.Host)
	l.v.SetDefault("server.port", def.Server.Port)
	l.v.SetDefault("server.cors_origins", def.Server.CORSOrigins)

	l.v.SetDefault("data.dir", def.Data.Dir)
	l.v.SetDefault("workspace.dir", def.Workspace.Dir)

	l.v.SetDefault("agent.kind", def.Agent.Kind)
	l.v.SetDefault("agent.command", def.Agent.Command)
	l.v.SetDefault("agent.extra_args", []string{})
	l.v.SetDefault("agent.max_iterations", def.Agent.MaxIterations)
	l.v.SetDefault("agent.cycle_timeout", def.Agent.CycleTimeout.String())

	l.v.SetDefault("provider.base_url", def.Provider.BaseURL)
	l.v.SetDefault("provider.model", def.Provider.Model)
	l.v.SetDefault("provider.api_key_env", def.Provider.APIKeyEnv)
	l.v.SetDefault("provider.max_retries", def.Provider.MaxRetries)

	l.v.SetDefault("session.timeout", def.Session.Timeout.String())
	l.v.SetDefault("session.warning_lead", def.Session.WarningLead.String())
	l.v.SetDefault("session.extend_by", def.Session.ExtendBy.String())
}
