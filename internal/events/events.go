package events

import (
	"github.com/taskforge-ai/taskforge/internal/core"
)

// Event type constants used for subscription filtering and SSE routing.
const (
	TypeLog            = "log"
	TypeStatus         = "status"
	TypeError          = "error"
	TypeAgentActivity  = "agent_activity"
	TypeAwaitingReview = "awaiting_review"
	TypeComplete       = "complete"
	TypeTimeoutWarning = "timeout_warning"
)

// LogEvent carries a line of agent or orchestrator output.
type LogEvent struct {
	BaseEvent
	Message string `json:"message"`
	Level   string `json:"level,omitempty"`
}

// NewLogEvent creates a log event for a task.
func NewLogEvent(taskID core.TaskID, message string) LogEvent {
	return LogEvent{
		BaseEvent: NewBaseEvent(TypeLog, string(taskID)),
		Message:   message,
	}
}

// StatusEvent announces a task status transition.
type StatusEvent struct {
	BaseEvent
	Status   core.TaskStatus `json:"status"`
	Previous core.TaskStatus `json:"previous_status,omitempty"`
}

// NewStatusEvent creates a status transition event.
func NewStatusEvent(taskID core.TaskID, status, previous core.TaskStatus) StatusEvent {
	return StatusEvent{
		BaseEvent: NewBaseEvent(TypeStatus, string(taskID)),
		Status:    status,
		Previous:  previous,
	}
}

// ErrorEvent reports a task-level failure.
type ErrorEvent struct {
	BaseEvent
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewErrorEvent creates an error event. If err is a DomainError its code
// is carried along for clients that branch on it.
func NewErrorEvent(taskID core.TaskID, err error) ErrorEvent {
	ev := ErrorEvent{
		BaseEvent: NewBaseEvent(TypeError, string(taskID)),
	}
	if err != nil {
		ev.Message = err.Error()
		if de, ok := core.AsDomainError(err); ok {
			ev.Code = de.Code
		}
	}
	return ev
}

// AgentActivityEvent wraps a structured agent event (chat, tool use,
// thinking) for broadcast.
type AgentActivityEvent struct {
	BaseEvent
	Activity core.AgentEvent `json:"activity"`
}

// NewAgentActivityEvent creates an agent activity event.
func NewAgentActivityEvent(taskID core.TaskID, activity core.AgentEvent) AgentActivityEvent {
	return AgentActivityEvent{
		BaseEvent: NewBaseEvent(TypeAgentActivity, string(taskID)),
		Activity:  activity,
	}
}

// AwaitingReviewEvent signals that a task needs human attention.
type AwaitingReviewEvent struct {
	BaseEvent
	Status  core.TaskStatus `json:"status"`
	Summary string          `json:"summary,omitempty"`
}

// NewAwaitingReviewEvent creates an awaiting-review event.
func NewAwaitingReviewEvent(taskID core.TaskID, status core.TaskStatus, summary string) AwaitingReviewEvent {
	return AwaitingReviewEvent{
		BaseEvent: NewBaseEvent(TypeAwaitingReview, string(taskID)),
		Status:    status,
		Summary:   summary,
	}
}

// CompleteEvent signals a session finished, successfully or not.
type CompleteEvent struct {
	BaseEvent
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`
	PRURL   string `json:"pr_url,omitempty"`
}

// NewCompleteEvent creates a completion event.
func NewCompleteEvent(taskID core.TaskID, success bool, summary, prURL string) CompleteEvent {
	return CompleteEvent{
		BaseEvent: NewBaseEvent(TypeComplete, string(taskID)),
		Success:   success,
		Summary:   summary,
		PRURL:     prURL,
	}
}

// TimeoutWarningEvent warns that a session is approaching its deadline
// and can still be extended.
type TimeoutWarningEvent struct {
	BaseEvent
	RemainingSeconds int `json:"remaining_seconds"`
}

// NewTimeoutWarningEvent creates a timeout warning event.
func NewTimeoutWarningEvent(taskID core.TaskID, remainingSeconds int) TimeoutWarningEvent {
	return TimeoutWarningEvent{
		BaseEvent:        NewBaseEvent(TypeTimeoutWarning, string(taskID)),
		RemainingSeconds: remainingSeconds,
	}
}
