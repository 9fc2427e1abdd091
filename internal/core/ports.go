package core

import (
	"context"
)

// =============================================================================
// Task Store Port
// =============================================================================

// TaskStore persists tasks. The orchestrator reads and writes through this
// interface but does not own storage.
type TaskStore interface {
	// GetByID fetches a task by identifier.
	GetByID(ctx context.Context, id TaskID) (*Task, error)

	// Update applies a partial update to a task.
	Update(ctx context.Context, id TaskID, update TaskUpdate) error

	// AppendFeedback records a feedback message for a task so it survives
	// until the next run picks it up.
	AppendFeedback(ctx context.Context, id TaskID, message string) error

	// PendingFeedback returns recorded feedback not yet consumed by a run.
	PendingFeedback(ctx context.Context, id TaskID) ([]string, error)

	// ClearFeedback removes consumed feedback.
	ClearFeedback(ctx context.Context, id TaskID) error
}

// =============================================================================
// Workspace Provisioner Port
// =============================================================================

// Workspace describes a provisioned working copy.
type Workspace struct {
	Path        string
	Reused      bool
	IsEmptyRepo bool
}

// WorkspaceProvisioner creates and tears down isolated working copies of a
// repository, one per task.
type WorkspaceProvisioner interface {
	// SetupWorktree creates or reuses the working copy for a task.
	SetupWorktree(ctx context.Context, taskID TaskID, repoURL, branch string) (*Workspace, error)

	// WorktreeExists reports whether a working copy exists for the task.
	WorktreeExists(taskID TaskID) bool

	// WorktreePath returns the filesystem path of the task's working copy.
	WorktreePath(taskID TaskID) string

	// CleanupWorktree removes the working copy for a task.
	CleanupWorktree(ctx context.Context, taskID TaskID) error

	// ChangedFiles lists files changed relative to the base branch.
	ChangedFiles(ctx context.Context, path, baseBranch string) ([]string, error)

	// Diff returns the unified diff relative to the base branch.
	Diff(ctx context.Context, path, baseBranch string) (string, error)
}

// =============================================================================
// PR Creation Port
// =============================================================================

// PRCreator opens a pull request for a completed task. Implementations live
// outside the core; the orchestrator only triggers them.
type PRCreator interface {
	CreatePR(ctx context.Context, task *Task, workspacePath string) (url string, err error)
}

// =============================================================================
// Runner Port
// =============================================================================

// RunResult is the outcome of one agent run.
type RunResult struct {
	Success    bool
	Summary    string
	Error      string
	Iterations int
}

// Runner drives one task's agent loop to completion. A Runner is
// single-use: one Run per instance. Runners report results; only the
// orchestrator interprets them into status transitions.
type Runner interface {
	// Run executes the agent loop until completion, cancellation, or
	// failure. It never returns a Go error; failures are carried in the
	// result.
	Run(ctx context.Context) RunResult

	// Cancel requests cooperative cancellation and kills any live process
	// tree owned by the runner.
	Cancel()

	// AddFeedback queues a message to be spliced into the conversation
	// before the next iteration.
	AddFeedback(message string)

	// Running reports whether the run loop is currently active.
	Running() bool
}
