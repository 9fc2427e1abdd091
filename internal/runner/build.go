package runner

import (
	"context"
	"fmt"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/events"
	"github.com/taskforge-ai/taskforge/internal/sandbox"
)

// buildAttempts is the total number of build runs, including the first.
const buildAttempts = 3

// fixer is implemented by both runner strategies: feed the build output
// back to the agent and run it until it declares completion again.
type fixer interface {
	fixAndRerun(ctx context.Context, buildOutput string) error
}

// validateBuild runs the task's build command through the executor. On
// failure the agent gets the output as a fix instruction and the build is
// re-run, up to buildAttempts total runs. The last build output rides on
// the terminal error.
func validateBuild(ctx context.Context, exec ToolExecutor, agent fixer, task *core.Task, bc *events.Broadcaster) error {
	command := task.BuildCommand
	var lastOutput string

	for attempt := 1; attempt <= buildAttempts; attempt++ {
		bc.EmitLog(task.ID, fmt.Sprintf("Build validation attempt %d/%d: %s", attempt, buildAttempts, command))

		result := exec.Execute(ctx, sandbox.ToolRunCommand, map[string]any{"command": command})
		if result.Success {
			bc.EmitLog(task.ID, "Build validation passed")
			return nil
		}

		lastOutput = result.Output
		if lastOutput == "" {
			lastOutput = result.Error
		}
		bc.EmitLog(task.ID, fmt.Sprintf("Build validation failed (attempt %d/%d)", attempt, buildAttempts))

		if attempt < buildAttempts {
			if err := agent.fixAndRerun(ctx, lastOutput); err != nil {
				return err
			}
		}
	}

	return core.ErrBuild(fmt.Sprintf("build failed after %d attempts", buildAttempts)).
		WithDetail("last_output", lastOutput)
}
