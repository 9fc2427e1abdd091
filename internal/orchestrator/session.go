package orchestrator

import (
	"time"

	"github.com/taskforge-ai/taskforge/internal/core"
)

// session tracks one live agent run. All fields are guarded by the
// orchestrator's registry mutex; the runner itself is concurrency-safe.
type session struct {
	taskID    core.TaskID
	runner    core.Runner
	startedAt time.Time
	deadline  time.Time

	// resolved flips exactly once, when the run goroutine observes the
	// result. Timer callbacks firing after that must do nothing.
	resolved bool

	// warned guards the single warning emission.
	warned bool

	// timedOut marks that the hard timer fired and cancelled the runner;
	// the completion path reports a timeout instead of a plain cancel.
	timedOut bool

	// cancelRequested marks a user-initiated cancel.
	cancelRequested bool

	warnTimer *time.Timer
	hardTimer *time.Timer
}

func (s *session) stopTimers() {
	if s.warnTimer != nil {
		s.warnTimer.Stop()
	}
	if s.hardTimer != nil {
		s.hardTimer.Stop()
	}
}
