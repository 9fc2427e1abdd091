package runner

import (
	"fmt"
	"strings"

	"github.com/taskforge-ai/taskforge/internal/core"
)

// PromptModes select how the task prompt is framed.
type PromptModes struct {
	// Resume indicates a previous session already worked on this task and
	// the workspace carries its changes.
	Resume bool

	// EmptyRepo indicates the repository has no commits yet and the agent
	// must bootstrap the project structure.
	EmptyRepo bool

	// PlanOnly restricts the session to producing a plan without touching
	// code.
	PlanOnly bool
}

// BuildSystemPrompt composes the system prompt for an API session.
func BuildSystemPrompt(task *core.Task, modes PromptModes) string {
	var sb strings.Builder

	sb.WriteString("You are an autonomous software engineering agent working inside a sandboxed repository checkout.\n")
	sb.WriteString("You interact with the workspace exclusively through the provided tools. ")
	sb.WriteString("All paths are relative to the workspace root; absolute paths and .. segments are rejected.\n\n")

	sb.WriteString("Rules:\n")
	sb.WriteString("- Read before you write: inspect relevant files before changing them.\n")
	sb.WriteString("- Only whitelisted commands run; network access and destructive commands are blocked.\n")
	sb.WriteString("- Commit your changes with git as you go.\n")
	if modes.PlanOnly {
		sb.WriteString("- PLAN ONLY: do not modify any files or run any write operations. Produce a detailed implementation plan, then call task_complete with the plan as the summary.\n")
	} else {
		sb.WriteString("- When the task is fully done and verified, call task_complete with a summary. Do not call it early.\n")
	}
	sb.WriteString("\n")

	writeTaskSection(&sb, task)

	if modes.EmptyRepo {
		sb.WriteString("\nThe repository is empty (no commits). Bootstrap the project structure from scratch, including build configuration.\n")
	}
	if modes.Resume {
		sb.WriteString("\nThis is a RESUME session: a previous session already worked on this task and the workspace contains its changes. Review the current state with git before continuing; do not start over.\n")
	}

	return sb.String()
}

// BuildComprehensivePrompt composes the single prompt handed to a
// subprocess agent, which gets no further turns.
func BuildComprehensivePrompt(task *core.Task, modes PromptModes, feedback []string) string {
	var sb strings.Builder

	writeTaskSection(&sb, task)

	sb.WriteString("\nWork autonomously inside the current directory. Commit your changes with git.\n")

	switch {
	case modes.PlanOnly:
		sb.WriteString("\nPLAN ONLY: produce a detailed implementation plan for this task. Do not modify any files.\n")
	case modes.EmptyRepo:
		sb.WriteString("\nThe repository is empty (no commits). Bootstrap the project structure from scratch, including build configuration.\n")
	}

	if modes.Resume {
		sb.WriteString("\nThis is a RESUME session: previous work on this task is already in the working tree. Review it with git status and git diff before continuing; do not start over.\n")
	}

	if len(feedback) > 0 {
		sb.WriteString("\nReviewer feedback to address:\n")
		for _, msg := range feedback {
			sb.WriteString("- ")
			sb.WriteString(msg)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func writeTaskSection(sb *strings.Builder, task *core.Task) {
	fmt.Fprintf(sb, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(sb, "\nDescription:\n%s\n", task.Description)
	}
	if task.Spec != "" {
		fmt.Fprintf(sb, "\nSpecification:\n%s\n", task.Spec)
	}
	if task.Plan != "" {
		fmt.Fprintf(sb, "\nApproved plan:\n%s\n", task.Plan)
	}
	if len(task.ContextFiles) > 0 {
		fmt.Fprintf(sb, "\nStart by reading these files: %s\n", strings.Join(task.ContextFiles, ", "))
	}
	if task.BuildCommand != "" {
		fmt.Fprintf(sb, "\nThe build is verified with: %s\n", task.BuildCommand)
	}
}

// buildFixPrompt frames a build failure as the next instruction.
func buildFixPrompt(buildCommand, output string) string {
	return fmt.Sprintf(
		"The build command %q failed with the following output:\n\n%s\n\n"+
			"Fix the errors. Do not re-run the build yourself; it will be re-run for you. "+
			"Call task_complete when the fixes are in place.",
		buildCommand, output)
}
