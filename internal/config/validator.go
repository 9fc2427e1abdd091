package config

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// ValidationError is one configuration validation failure.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
	validAgentKinds = []string{"api", "subprocess"}
)

// Validate checks the configuration and returns all problems found.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	add := func(field string, value interface{}, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if !contains(validLogLevels, cfg.Log.Level) {
		add("log.level", cfg.Log.Level, suggest(cfg.Log.Level, validLogLevels))
	}
	if !contains(validLogFormats, cfg.Log.Format) {
		add("log.format", cfg.Log.Format, suggest(cfg.Log.Format, validLogFormats))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server.port", cfg.Server.Port, "must be between 1 and 65535")
	}
	if cfg.Data.Dir == "" {
		add("data.dir", cfg.Data.Dir, "cannot be empty")
	}
	if cfg.Workspace.Dir == "" {
		add("workspace.dir", cfg.Workspace.Dir, "cannot be empty")
	}
	if !contains(validAgentKinds, cfg.Agent.Kind) {
		add("agent.kind", cfg.Agent.Kind, suggest(cfg.Agent.Kind, validAgentKinds))
	}
	if cfg.Agent.Kind == "subprocess" && cfg.Agent.Command == "" {
		add("agent.command", cfg.Agent.Command, "required when agent.kind is subprocess")
	}
	if cfg.Agent.MaxIterations < 0 {
		add("agent.max_iterations", cfg.Agent.MaxIterations, "cannot be negative")
	}
	if cfg.Agent.CycleTimeout < 0 {
		add("agent.cycle_timeout", cfg.Agent.CycleTimeout, "cannot be negative")
	}
	if cfg.Provider.MaxRetries < 1 {
		add("provider.max_retries", cfg.Provider.MaxRetries, "must be at least 1")
	}
	if cfg.Session.Timeout <= 0 {
		add("session.timeout", cfg.Session.Timeout, "must be positive")
	}
	if cfg.Session.WarningLead <= 0 || cfg.Session.WarningLead >= cfg.Session.Timeout {
		add("session.warning_lead", cfg.Session.WarningLead, "must be positive and shorter than session.timeout")
	}
	if cfg.Session.ExtendBy <= 0 {
		add("session.extend_by", cfg.Session.ExtendBy, "must be positive")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// suggest builds a "must be one of" message with a fuzzy-matched
// "did you mean" hint when the input resembles a valid value.
func suggest(input string, valid []string) string {
	msg := "must be one of: " + strings.Join(valid, ", ")
	if input == "" {
		return msg
	}
	matches := fuzzy.Find(input, valid)
	if len(matches) > 0 {
		msg += fmt.Sprintf(" (did you mean %q?)", matches[0].Str)
	}
	return msg
}
