package core

import (
	"time"

	"github.com/google/uuid"
)

// AgentEventType defines the type of event emitted during agent execution.
type AgentEventType string

const (
	// AgentEventStarted indicates the agent execution has begun.
	AgentEventStarted AgentEventType = "started"

	// AgentEventChat carries an assistant or user message.
	AgentEventChat AgentEventType = "chat"

	// AgentEventToolUse indicates the agent invoked a tool.
	AgentEventToolUse AgentEventType = "tool_use"

	// AgentEventThinking indicates the agent is reasoning.
	AgentEventThinking AgentEventType = "thinking"

	// AgentEventCompleted indicates the agent execution finished.
	AgentEventCompleted AgentEventType = "completed"

	// AgentEventError indicates an error occurred during execution.
	AgentEventError AgentEventType = "error"
)

// ActivityStatus tracks the lifecycle of one tool invocation.
type ActivityStatus string

const (
	ActivityRunning   ActivityStatus = "running"
	ActivityCompleted ActivityStatus = "completed"
	ActivityError     ActivityStatus = "error"
)

// AgentEvent is a real-time event from an agent during execution. These
// provide visibility into what the agent is doing before the final result
// is returned. Broadcast-only; transcript persistence is an external
// concern.
type AgentEvent struct {
	ID        string         `json:"id"`
	Type      AgentEventType `json:"event_kind"`
	Agent     string         `json:"agent"`
	Tool      string         `json:"tool,omitempty"`
	Status    ActivityStatus `json:"status,omitempty"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewAgentEvent creates a new agent event with the current timestamp.
func NewAgentEvent(eventType AgentEventType, agent, message string) AgentEvent {
	return AgentEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Agent:     agent,
		Timestamp: time.Now(),
		Message:   message,
	}
}

// NewToolActivity creates a tool-activity event.
func NewToolActivity(agent, tool string, status ActivityStatus, summary string) AgentEvent {
	ev := NewAgentEvent(AgentEventToolUse, agent, summary)
	ev.Tool = tool
	ev.Status = status
	return ev
}

// WithData adds structured data to the event.
func (e AgentEvent) WithData(data map[string]any) AgentEvent {
	e.Data = data
	return e
}
