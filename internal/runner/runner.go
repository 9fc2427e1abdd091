// Package runner implements the agent strategies that drive one task to
// completion: an API-driven tool-calling loop and a subprocess-driven
// external CLI. Both satisfy core.Runner and are single-use.
package runner

import (
	"context"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/events"
	"github.com/taskforge-ai/taskforge/internal/logging"
	"github.com/taskforge-ai/taskforge/internal/provider"
	"github.com/taskforge-ai/taskforge/internal/sandbox"
)

// ToolExecutor is the complete side-effecting surface a runner uses.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]any) sandbox.ToolResult
}

// ChatClient is the provider surface the API runner depends on.
type ChatClient interface {
	Chat(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error)
	Model() string
}

// Options carries the construction parameters shared by both strategies.
// Strategy-specific knobs live in APIConfig and SubprocessConfig.
type Options struct {
	Task      *core.Task
	Workspace *core.Workspace
	Executor  ToolExecutor
	Events    *events.Broadcaster
	Logger    *logging.Logger
	Modes     PromptModes
}

// Factory constructs runners for tasks based on their agent kind.
type Factory struct {
	client      ChatClient
	subprocess  SubprocessConfig
	maxIters    int
	defaultKind core.AgentKind
}

// NewFactory creates a runner factory. defaultKind is used for tasks
// that do not name an agent kind; empty means API. client may be nil if
// only subprocess tasks are expected; subprocess.Command may be empty if
// only API tasks are expected.
func NewFactory(client ChatClient, subprocess SubprocessConfig, maxIterations int, defaultKind core.AgentKind) *Factory {
	if defaultKind == "" {
		defaultKind = core.AgentKindAPI
	}
	return &Factory{
		client:      client,
		subprocess:  subprocess,
		maxIters:    maxIterations,
		defaultKind: defaultKind,
	}
}

// New constructs the runner for the task's agent kind.
func (f *Factory) New(opts Options) (core.Runner, error) {
	kind := opts.Task.AgentKind
	if kind == "" {
		kind = f.defaultKind
	}

	switch kind {
	case core.AgentKindAPI:
		if f.client == nil {
			return nil, core.ErrValidation("NO_PROVIDER", "no provider client configured for API agent")
		}
		return NewAPIRunner(APIConfig{
			Options:       opts,
			Client:        f.client,
			MaxIterations: f.maxIters,
		}), nil
	case core.AgentKindSubprocess:
		if f.subprocess.Command == "" {
			return nil, core.ErrValidation("NO_AGENT_CLI", "no agent CLI configured for subprocess agent")
		}
		cfg := f.subprocess
		cfg.Options = opts
		return NewSubprocessRunner(cfg), nil
	default:
		return nil, core.ErrValidation("UNKNOWN_AGENT_KIND", "unknown agent kind: "+string(kind))
	}
}
