package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/logging"
	"github.com/taskforge-ai/taskforge/internal/provider"
	"github.com/taskforge-ai/taskforge/internal/sandbox"
)

// maxConsecutiveAnomalies is the safety valve for the agent loop: three
// empty replies or provider errors in a row abort the run.
const maxConsecutiveAnomalies = 3

// APIConfig configures an API-driven runner.
type APIConfig struct {
	Options
	Client ChatClient

	// MaxIterations bounds the loop; 0 means unbounded, relying on the
	// anomaly counter only.
	MaxIterations int
}

// APIRunner drives a task through a provider tool-calling loop. It owns
// its conversation history and is single-use.
type APIRunner struct {
	cfg    APIConfig
	logger *logging.Logger
	agent  string

	mu        sync.Mutex
	feedback  []string
	running   bool
	cancelled bool
	started   bool
	cancel    context.CancelFunc

	// loop state, owned by the Run goroutine
	messages   []provider.Message
	completed  bool
	summary    string
	iterations int
}

var _ core.Runner = (*APIRunner)(nil)

// NewAPIRunner creates an API-driven runner for one task.
func NewAPIRunner(cfg APIConfig) *APIRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &APIRunner{
		cfg:    cfg,
		logger: logger.WithTask(string(cfg.Task.ID)).WithAgent("api"),
		agent:  "api:" + cfg.Client.Model(),
	}
}

// Run executes the agent loop until completion, cancellation, or failure.
func (r *APIRunner) Run(ctx context.Context) core.RunResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return core.RunResult{Success: false, Error: "runner already used"}
	}
	r.started = true
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	task := r.cfg.Task
	r.cfg.Events.EmitAgentEvent(task.ID, core.NewAgentEvent(core.AgentEventStarted, r.agent, "Agent session started"))

	r.messages = []provider.Message{
		{Role: provider.RoleSystem, Content: BuildSystemPrompt(task, r.cfg.Modes)},
		{Role: provider.RoleUser, Content: "Begin working on the task now."},
	}

	if err := r.agentLoop(ctx); err != nil {
		return r.failure(err)
	}

	if task.BuildCommand != "" && !r.cfg.Modes.PlanOnly {
		if err := validateBuild(ctx, r.cfg.Executor, r, task, r.cfg.Events); err != nil {
			return r.failure(err)
		}
	}

	r.cfg.Events.EmitAgentEvent(task.ID, core.NewAgentEvent(core.AgentEventCompleted, r.agent, r.summary))
	return core.RunResult{Success: true, Summary: r.summary, Iterations: r.iterations}
}

// Cancel requests cancellation. The loop stops before its next iteration
// and any in-flight sandboxed process is killed through the context.
func (r *APIRunner) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// AddFeedback queues a message to be spliced in before the next iteration.
func (r *APIRunner) AddFeedback(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback = append(r.feedback, message)
}

// Running reports whether the run loop is active.
func (r *APIRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *APIRunner) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *APIRunner) failure(err error) core.RunResult {
	if r.isCancelled() || core.IsCategory(err, core.ErrCatCancelled) {
		return core.RunResult{Success: false, Error: "cancelled", Iterations: r.iterations}
	}
	r.cfg.Events.EmitAgentEvent(r.cfg.Task.ID, core.NewAgentEvent(core.AgentEventError, r.agent, err.Error()))
	return core.RunResult{Success: false, Error: err.Error(), Iterations: r.iterations}
}

func (r *APIRunner) agentLoop(ctx context.Context) error {
	tools := ToolDefinitions()
	consecutive := 0

	for {
		if r.isCancelled() || ctx.Err() != nil {
			return core.ErrCancelled("run cancelled")
		}
		if r.cfg.MaxIterations > 0 && r.iterations >= r.cfg.MaxIterations {
			return core.ErrState(core.CodeMaxIterations,
				fmt.Sprintf("no completion after %d iterations", r.cfg.MaxIterations))
		}

		r.spliceFeedback()

		resp, err := r.cfg.Client.Chat(ctx, provider.ChatRequest{
			Messages: r.messages,
			Tools:    tools,
		})
		if err != nil {
			if r.isCancelled() || core.IsCategory(err, core.ErrCatCancelled) {
				return core.ErrCancelled("run cancelled")
			}
			consecutive++
			r.logger.Warn("provider call failed", "consecutive", consecutive, "error", err)
			if consecutive >= maxConsecutiveAnomalies {
				return core.ErrState(core.CodeConsecutiveFails,
					fmt.Sprintf("%d consecutive provider failures", consecutive)).WithCause(err)
			}
			continue
		}
		r.iterations++
		r.messages = append(r.messages, resp.AssistantMessage())

		switch {
		case resp.HasToolCalls():
			consecutive = 0
			if strings.TrimSpace(resp.Content) != "" {
				r.cfg.Events.EmitAgentEvent(r.cfg.Task.ID,
					core.NewAgentEvent(core.AgentEventChat, r.agent, resp.Content))
			}
			for _, call := range resp.ToolCalls {
				r.executeToolCall(ctx, call)
			}
		case strings.TrimSpace(resp.Content) != "":
			consecutive = 0
			r.cfg.Events.EmitAgentEvent(r.cfg.Task.ID,
				core.NewAgentEvent(core.AgentEventChat, r.agent, resp.Content))
		default:
			// Neither content nor tool calls.
			consecutive++
			if consecutive >= maxConsecutiveAnomalies {
				return core.ErrState(core.CodeConsecutiveFails,
					fmt.Sprintf("%d consecutive empty replies from model", consecutive))
			}
			r.messages = append(r.messages, provider.Message{
				Role:    provider.RoleUser,
				Content: "Your last reply was empty. Use a tool to make progress, or call task_complete if the task is done.",
			})
		}

		if r.completed {
			return nil
		}
	}
}

func (r *APIRunner) spliceFeedback() {
	r.mu.Lock()
	pending := r.feedback
	r.feedback = nil
	r.mu.Unlock()

	for _, msg := range pending {
		r.cfg.Events.EmitLog(r.cfg.Task.ID, "Feedback delivered to agent: "+msg)
		r.messages = append(r.messages, provider.Message{
			Role:    provider.RoleUser,
			Content: "Reviewer feedback: " + msg,
		})
	}
}

func (r *APIRunner) executeToolCall(ctx context.Context, call provider.ToolCall) {
	taskID := r.cfg.Task.ID
	name := call.Function.Name

	args, err := provider.ParseToolArguments(call.Function.Arguments)
	if err != nil {
		r.cfg.Events.EmitAgentEvent(taskID,
			core.NewToolActivity(r.agent, name, core.ActivityError, "invalid tool arguments"))
		r.messages = append(r.messages,
			provider.ToolResultMessage(call.ID, "Error: invalid tool arguments: "+err.Error()))
		return
	}

	r.cfg.Events.EmitAgentEvent(taskID,
		core.NewToolActivity(r.agent, name, core.ActivityRunning, describeCall(name, args)))

	result := r.cfg.Executor.Execute(ctx, name, args)

	status := core.ActivityCompleted
	content := result.Output
	if !result.Success {
		status = core.ActivityError
		content = "Error: " + result.Error
		if result.Output != "" {
			content += "\n" + result.Output
		}
	}
	r.cfg.Events.EmitAgentEvent(taskID,
		core.NewToolActivity(r.agent, name, status, describeCall(name, args)))
	r.messages = append(r.messages, provider.ToolResultMessage(call.ID, content))

	if name == sandbox.ToolTaskComplete && result.Success {
		r.completed = true
		if s, ok := args["summary"].(string); ok {
			r.summary = s
		}
	}
}

// fixAndRerun feeds a build failure back and re-runs the loop until the
// agent declares completion again.
func (r *APIRunner) fixAndRerun(ctx context.Context, buildOutput string) error {
	r.completed = false
	r.messages = append(r.messages, provider.Message{
		Role:    provider.RoleUser,
		Content: buildFixPrompt(r.cfg.Task.BuildCommand, buildOutput),
	})
	return r.agentLoop(ctx)
}

func describeCall(name string, args map[string]any) string {
	switch name {
	case sandbox.ToolReadFile, sandbox.ToolWriteFile, sandbox.ToolListDirectory:
		if path, ok := args["path"].(string); ok && path != "" {
			return name + " " + path
		}
	case sandbox.ToolRunCommand, sandbox.ToolVerifyServer:
		if command, ok := args["command"].(string); ok && command != "" {
			if len(command) > 120 {
				command = command[:120] + "..."
			}
			return name + ": " + command
		}
	case sandbox.ToolSearchFiles:
		if pattern, ok := args["pattern"].(string); ok && pattern != "" {
			return name + " " + pattern
		}
	}
	return name
}
