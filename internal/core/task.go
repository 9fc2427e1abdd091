package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TaskID uniquely identifies a task.
type TaskID string

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusBacklog          TaskStatus = "backlog"
	TaskStatusPlanning         TaskStatus = "planning"
	TaskStatusInProgress       TaskStatus = "in_progress"
	TaskStatusPlanReview       TaskStatus = "plan_review"
	TaskStatusAwaitingReview   TaskStatus = "awaiting_review"
	TaskStatusPRCreated        TaskStatus = "pr_created"
	TaskStatusChangesRequested TaskStatus = "changes_requested"
	TaskStatusMergeConflicts   TaskStatus = "merge_conflicts"
	TaskStatusDone             TaskStatus = "done"
	TaskStatusFailed           TaskStatus = "failed"
	TaskStatusCanceled         TaskStatus = "canceled"
)

// StartableStatuses are the statuses from which a fresh agent run may begin.
var StartableStatuses = []TaskStatus{
	TaskStatusBacklog,
	TaskStatusFailed,
	TaskStatusCanceled,
}

// ResumableStatuses are the statuses from which a resume run may begin
// (feedback on an agent that already produced work, or recovery after a
// restart left the task mid-flight).
var ResumableStatuses = []TaskStatus{
	TaskStatusPlanning,
	TaskStatusInProgress,
	TaskStatusPlanReview,
	TaskStatusAwaitingReview,
	TaskStatusPRCreated,
	TaskStatusChangesRequested,
	TaskStatusMergeConflicts,
}

// ActiveStatuses are statuses that indicate an agent is (or should be)
// working on the task.
var ActiveStatuses = []TaskStatus{
	TaskStatusPlanning,
	TaskStatusInProgress,
}

// AgentKind selects the runner strategy for a task.
type AgentKind string

const (
	AgentKindAPI        AgentKind = "api"        // provider tool-calling loop
	AgentKindSubprocess AgentKind = "subprocess" // external coding-agent CLI
)

// Task represents one software-engineering task against a repository.
type Task struct {
	ID           TaskID     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	RepoURL      string     `json:"repo_url"`
	TargetBranch string     `json:"target_branch"`
	ContextFiles []string   `json:"context_files,omitempty"`
	BuildCommand string     `json:"build_command,omitempty"`
	Status       TaskStatus `json:"status"`
	BranchName   string     `json:"branch_name,omitempty"`
	PRURL        string     `json:"pr_url,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Spec         string     `json:"spec,omitempty"`
	Plan         string     `json:"plan,omitempty"`
	AgentKind    AgentKind  `json:"agent_kind,omitempty"`
	Model        string     `json:"model,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrValidation("TASK_ID_REQUIRED", "task ID cannot be empty")
	}
	if t.Title == "" {
		return ErrValidation("TASK_TITLE_REQUIRED", "task title cannot be empty")
	}
	if t.RepoURL == "" {
		return ErrValidation("TASK_REPO_REQUIRED", "task repository cannot be empty")
	}
	return nil
}

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// IsTerminal returns true for statuses no further automatic transition
// leaves.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusFailed || s == TaskStatusCanceled
}

// IsActive returns true if an agent is expected to be working on the task.
func (t *Task) IsActive() bool {
	return StatusIn(t.Status, ActiveStatuses)
}

// StatusIn reports whether status is a member of the given set.
func StatusIn(status TaskStatus, set []TaskStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// TaskUpdate holds the partial fields an orchestrator may persist. Nil
// pointers leave the stored value untouched.
type TaskUpdate struct {
	Status       *TaskStatus
	BranchName   *string
	PRURL        *string
	ErrorMessage *string
	Plan         *string
}

// StatusUpdate builds an update that only changes status.
func StatusUpdate(status TaskStatus) TaskUpdate {
	return TaskUpdate{Status: &status}
}

// FailureUpdate builds an update that marks the task failed with a message.
func FailureUpdate(message string) TaskUpdate {
	status := TaskStatusFailed
	return TaskUpdate{Status: &status, ErrorMessage: &message}
}

var branchSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// DeriveBranchName builds a git branch name from the task title and a
// short task-id suffix, e.g. "agent/fix-login-redirect-3f2a91".
func DeriveBranchName(title string, id TaskID) string {
	slug := branchSlugRe.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
		slug = strings.Trim(slug, "-")
	}
	if slug == "" {
		slug = "task"
	}
	suffix := string(id)
	suffix = strings.ReplaceAll(suffix, "-", "")
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("agent/%s-%s", slug, suffix)
}
