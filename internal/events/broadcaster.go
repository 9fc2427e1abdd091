package events

import (
	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/logging"
)

// Broadcaster is the emit side of the event pipeline. Orchestrator and
// runners publish through it; API clients subscribe to the underlying bus.
// Terminal events go through the priority path so they survive slow
// consumers.
type Broadcaster struct {
	bus    *Bus
	logger *logging.Logger
}

// NewBroadcaster creates a broadcaster over the given bus.
func NewBroadcaster(bus *Bus, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{bus: bus, logger: logger}
}

// Bus returns the underlying bus for subscribers.
func (b *Broadcaster) Bus() *Bus {
	return b.bus
}

// EmitLog broadcasts a line of output for a task.
func (b *Broadcaster) EmitLog(taskID core.TaskID, message string) {
	b.bus.Publish(NewLogEvent(taskID, message))
}

// EmitStatus broadcasts a status transition.
func (b *Broadcaster) EmitStatus(taskID core.TaskID, status, previous core.TaskStatus) {
	ev := NewStatusEvent(taskID, status, previous)
	if status.IsTerminal() {
		b.bus.PublishPriority(ev)
		return
	}
	b.bus.Publish(ev)
}

// EmitError broadcasts a task failure. Never dropped.
func (b *Broadcaster) EmitError(taskID core.TaskID, err error) {
	b.logger.WithTask(string(taskID)).Error("task error", "error", err)
	b.bus.PublishPriority(NewErrorEvent(taskID, err))
}

// EmitAgentEvent broadcasts a structured agent activity.
func (b *Broadcaster) EmitAgentEvent(taskID core.TaskID, activity core.AgentEvent) {
	b.bus.Publish(NewAgentActivityEvent(taskID, activity))
}

// EmitAwaitingReview broadcasts that a task needs human attention.
func (b *Broadcaster) EmitAwaitingReview(taskID core.TaskID, status core.TaskStatus, summary string) {
	b.bus.PublishPriority(NewAwaitingReviewEvent(taskID, status, summary))
}

// EmitComplete broadcasts session completion. Never dropped.
func (b *Broadcaster) EmitComplete(taskID core.TaskID, success bool, summary, prURL string) {
	b.bus.PublishPriority(NewCompleteEvent(taskID, success, summary, prURL))
}

// EmitTimeoutWarning broadcasts that a session is close to its deadline.
func (b *Broadcaster) EmitTimeoutWarning(taskID core.TaskID, remainingSeconds int) {
	b.bus.PublishPriority(NewTimeoutWarningEvent(taskID, remainingSeconds))
}
