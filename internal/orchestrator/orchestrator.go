// Package orchestrator coordinates task lifecycles: it enforces status
// preconditions, provisions workspaces, runs agents with timeout
// supervision, and translates run outcomes into status transitions.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/events"
	"github.com/taskforge-ai/taskforge/internal/logging"
	"github.com/taskforge-ai/taskforge/internal/runner"
	"github.com/taskforge-ai/taskforge/internal/sandbox"
)

// cancelledByUser is the error message recorded on a user-initiated cancel.
const cancelledByUser = "Cancelled by user"

// RunnerFactory builds the runner for one session.
type RunnerFactory interface {
	New(opts runner.Options) (core.Runner, error)
}

// Config holds the orchestrator's timing knobs.
type Config struct {
	// SessionTimeout is the hard deadline for one agent session.
	SessionTimeout time.Duration

	// WarningLead is how long before the deadline the warning fires.
	WarningLead time.Duration

	// ExtendBy is the fixed increment added per timeout extension.
	ExtendBy time.Duration
}

// DefaultConfig returns the default timing configuration.
func DefaultConfig() Config {
	return Config{
		SessionTimeout: 30 * time.Minute,
		WarningLead:    2 * time.Minute,
		ExtendBy:       15 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.WarningLead <= 0 || c.WarningLead >= c.SessionTimeout {
		c.WarningLead = d.WarningLead
	}
	if c.ExtendBy <= 0 {
		c.ExtendBy = d.ExtendBy
	}
}

// Orchestrator owns the session registry. At most one session exists per
// task at any time.
type Orchestrator struct {
	store      core.TaskStore
	workspaces core.WorkspaceProvisioner
	factory    RunnerFactory
	events     *events.Broadcaster
	prCreator  core.PRCreator
	logger     *logging.Logger
	cfg        Config

	mu       sync.Mutex
	sessions map[core.TaskID]*session
	closed   bool
	wg       sync.WaitGroup
}

// New creates an orchestrator. prCreator may be nil; successful tasks then
// stay in awaiting_review without a PR.
func New(
	store core.TaskStore,
	workspaces core.WorkspaceProvisioner,
	factory RunnerFactory,
	broadcaster *events.Broadcaster,
	prCreator core.PRCreator,
	logger *logging.Logger,
	cfg Config,
) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:      store,
		workspaces: workspaces,
		factory:    factory,
		events:     broadcaster,
		prCreator:  prCreator,
		logger:     logger,
		cfg:        cfg,
		sessions:   make(map[core.TaskID]*session),
	}
}

// StartAgent begins an agent session for the task. resume continues
// earlier work in the existing workspace; a fresh start requires a
// startable status, a resume a resumable one.
func (o *Orchestrator) StartAgent(ctx context.Context, taskID core.TaskID, resume bool) error {
	task, err := o.store.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	operation := "start"
	allowed := core.StartableStatuses
	if resume {
		operation = "resume"
		allowed = core.ResumableStatuses
	}
	if !core.StatusIn(task.Status, allowed) {
		return core.ErrInvalidStatus(operation, task.Status, allowed)
	}

	// Reserve the session slot before any construction so a concurrent
	// start cannot build a second runner.
	sess := &session{taskID: taskID, startedAt: time.Now()}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return core.ErrState("SHUTTING_DOWN", "orchestrator is shutting down")
	}
	if _, exists := o.sessions[taskID]; exists {
		o.mu.Unlock()
		return core.ErrState(core.CodeSessionActive,
			fmt.Sprintf("task %s already has an active agent session", taskID))
	}
	o.sessions[taskID] = sess
	o.mu.Unlock()

	if err := o.provision(ctx, task, sess, resume); err != nil {
		o.removeSession(taskID)
		return err
	}
	return nil
}

// provision runs the setup chain after the slot is reserved.
func (o *Orchestrator) provision(ctx context.Context, task *core.Task, sess *session, resume bool) error {
	taskID := task.ID
	logger := o.logger.WithTask(string(taskID))

	if task.BranchName == "" {
		task.BranchName = core.DeriveBranchName(task.Title, taskID)
		branch := task.BranchName
		if err := o.store.Update(ctx, taskID, core.TaskUpdate{BranchName: &branch}); err != nil {
			return err
		}
	}

	previous := task.Status
	if err := o.store.Update(ctx, taskID, core.StatusUpdate(core.TaskStatusPlanning)); err != nil {
		return err
	}
	o.events.EmitStatus(taskID, core.TaskStatusPlanning, previous)

	ws, err := o.workspaces.SetupWorktree(ctx, taskID, task.RepoURL, task.BranchName)
	if cerr := o.abortIfCancelled(ctx, sess); cerr != nil {
		return cerr
	}
	if err != nil {
		// Workspace failure marks the task failed immediately; no session
		// ever runs.
		msg := "workspace setup failed: " + err.Error()
		if uerr := o.store.Update(ctx, taskID, core.FailureUpdate(msg)); uerr != nil {
			logger.Error("failed to record workspace failure", "error", uerr)
		}
		o.events.EmitError(taskID, core.ErrState(core.CodeWorkspaceFailed, msg).WithCause(err))
		o.events.EmitStatus(taskID, core.TaskStatusFailed, core.TaskStatusPlanning)
		return core.ErrState(core.CodeWorkspaceFailed, msg).WithCause(err)
	}

	executor := sandbox.New(ws.Path, logger)
	run, err := o.factory.New(runner.Options{
		Task:      task,
		Workspace: ws,
		Executor:  executor,
		Events:    o.events,
		Logger:    logger,
		Modes: runner.PromptModes{
			Resume:    resume || ws.Reused,
			EmptyRepo: ws.IsEmptyRepo,
		},
	})
	if err != nil {
		msg := "agent construction failed: " + err.Error()
		if uerr := o.store.Update(ctx, taskID, core.FailureUpdate(msg)); uerr != nil {
			logger.Error("failed to record runner failure", "error", uerr)
		}
		o.events.EmitError(taskID, err)
		return err
	}

	// Pending feedback recorded while no session was live rides into this
	// run.
	if pending, ferr := o.store.PendingFeedback(ctx, taskID); ferr == nil && len(pending) > 0 {
		for _, msg := range pending {
			run.AddFeedback(msg)
		}
		if cerr := o.store.ClearFeedback(ctx, taskID); cerr != nil {
			logger.Warn("failed to clear delivered feedback", "error", cerr)
		}
	}

	o.mu.Lock()
	if sess.cancelRequested {
		// Cancelled while the workspace or runner was being prepared.
		// The runner never starts and the cancel transition wins.
		o.mu.Unlock()
		return o.recordProvisionCancel(ctx, taskID)
	}
	sess.runner = run
	sess.deadline = time.Now().Add(o.cfg.SessionTimeout)
	o.armTimersLocked(sess)
	o.mu.Unlock()

	if err := o.store.Update(ctx, taskID, core.StatusUpdate(core.TaskStatusInProgress)); err != nil {
		logger.Warn("failed to record in_progress status", "error", err)
	}
	o.events.EmitStatus(taskID, core.TaskStatusInProgress, core.TaskStatusPlanning)

	o.wg.Add(1)
	go o.runSession(sess, run)

	logger.Info("agent session started", "resume", resume, "deadline", sess.deadline)
	return nil
}

// abortIfCancelled checks for a cancel issued while provisioning was in
// flight and, when found, applies the canceled transition.
func (o *Orchestrator) abortIfCancelled(ctx context.Context, sess *session) error {
	o.mu.Lock()
	cancelled := sess.cancelRequested
	o.mu.Unlock()
	if !cancelled {
		return nil
	}
	return o.recordProvisionCancel(ctx, sess.taskID)
}

// recordProvisionCancel persists the canceled state for a session that was
// cancelled before its runner launched.
func (o *Orchestrator) recordProvisionCancel(ctx context.Context, taskID core.TaskID) error {
	status := core.TaskStatusCanceled
	msg := cancelledByUser
	if err := o.store.Update(ctx, taskID, core.TaskUpdate{Status: &status, ErrorMessage: &msg}); err != nil {
		o.logger.WithTask(string(taskID)).Error("failed to record cancel", "error", err)
	}
	o.events.EmitStatus(taskID, core.TaskStatusCanceled, core.TaskStatusPlanning)
	o.events.EmitComplete(taskID, false, cancelledByUser, "")
	return core.ErrCancelled("agent start cancelled")
}

// runSession waits for the runner and applies the terminal transition.
func (o *Orchestrator) runSession(sess *session, run core.Runner) {
	defer o.wg.Done()

	result := run.Run(context.Background())

	o.mu.Lock()
	sess.resolved = true
	sess.stopTimers()
	timedOut := sess.timedOut
	cancelRequested := sess.cancelRequested
	delete(o.sessions, sess.taskID)
	o.mu.Unlock()

	ctx := context.Background()
	taskID := sess.taskID
	logger := o.logger.WithTask(string(taskID))

	switch {
	case timedOut:
		msg := fmt.Sprintf("session timed out after %s", o.cfg.SessionTimeout)
		if err := o.store.Update(ctx, taskID, core.FailureUpdate(msg)); err != nil {
			logger.Error("failed to record timeout", "error", err)
		}
		o.events.EmitError(taskID, core.ErrTimeout(msg))
		o.events.EmitStatus(taskID, core.TaskStatusFailed, core.TaskStatusInProgress)
		o.events.EmitComplete(taskID, false, msg, "")

	case cancelRequested:
		status := core.TaskStatusCanceled
		msg := cancelledByUser
		if err := o.store.Update(ctx, taskID, core.TaskUpdate{Status: &status, ErrorMessage: &msg}); err != nil {
			logger.Error("failed to record cancel", "error", err)
		}
		o.events.EmitStatus(taskID, core.TaskStatusCanceled, core.TaskStatusInProgress)
		o.events.EmitComplete(taskID, false, msg, "")

	case result.Success:
		o.completeSuccess(ctx, taskID, result)

	default:
		if err := o.store.Update(ctx, taskID, core.FailureUpdate(result.Error)); err != nil {
			logger.Error("failed to record failure", "error", err)
		}
		o.events.EmitError(taskID, core.ErrState("RUN_FAILED", result.Error))
		o.events.EmitStatus(taskID, core.TaskStatusFailed, core.TaskStatusInProgress)
		o.events.EmitComplete(taskID, false, result.Error, "")
	}

	logger.Info("agent session finished",
		"success", result.Success, "iterations", result.Iterations)
}

func (o *Orchestrator) completeSuccess(ctx context.Context, taskID core.TaskID, result core.RunResult) {
	logger := o.logger.WithTask(string(taskID))

	if err := o.store.Update(ctx, taskID, core.StatusUpdate(core.TaskStatusAwaitingReview)); err != nil {
		logger.Error("failed to record awaiting_review", "error", err)
	}
	o.events.EmitStatus(taskID, core.TaskStatusAwaitingReview, core.TaskStatusInProgress)
	o.events.EmitAwaitingReview(taskID, core.TaskStatusAwaitingReview, result.Summary)

	prURL := ""
	if o.prCreator != nil {
		task, err := o.store.GetByID(ctx, taskID)
		if err == nil {
			prURL, err = o.prCreator.CreatePR(ctx, task, "")
		}
		if err != nil {
			logger.Warn("PR creation failed", "error", err)
		} else if prURL != "" {
			status := core.TaskStatusPRCreated
			if uerr := o.store.Update(ctx, taskID, core.TaskUpdate{Status: &status, PRURL: &prURL}); uerr != nil {
				logger.Error("failed to record PR", "error", uerr)
			}
			o.events.EmitStatus(taskID, core.TaskStatusPRCreated, core.TaskStatusAwaitingReview)
		}
	}

	o.events.EmitComplete(taskID, true, result.Summary, prURL)
}

// CancelAgent cancels a live session, or forces a stuck active task to
// canceled when no session exists (restart recovery).
func (o *Orchestrator) CancelAgent(ctx context.Context, taskID core.TaskID) error {
	o.mu.Lock()
	sess, live := o.sessions[taskID]
	if live {
		sess.cancelRequested = true
		run := sess.runner
		o.mu.Unlock()
		// A nil runner means the session is still provisioning; the
		// provision path observes cancelRequested and aborts.
		if run != nil {
			run.Cancel()
		}
		return nil
	}
	o.mu.Unlock()

	task, err := o.store.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if !core.StatusIn(task.Status, core.ActiveStatuses) {
		return core.ErrState(core.CodeNoSession,
			fmt.Sprintf("task %s has no active agent session (status %s)", taskID, task.Status))
	}

	// Stuck active status without a session: force the transition.
	status := core.TaskStatusCanceled
	msg := cancelledByUser
	if err := o.store.Update(ctx, taskID, core.TaskUpdate{Status: &status, ErrorMessage: &msg}); err != nil {
		return err
	}
	o.events.EmitStatus(taskID, core.TaskStatusCanceled, task.Status)
	return nil
}

// ApproveTask marks a reviewed task done. Only tasks sitting in a
// reviewable terminal state can be approved, and never while an agent
// session is live.
func (o *Orchestrator) ApproveTask(ctx context.Context, taskID core.TaskID) error {
	o.mu.Lock()
	_, live := o.sessions[taskID]
	o.mu.Unlock()
	if live {
		return core.ErrState(core.CodeSessionActive,
			fmt.Sprintf("task %s has an active agent session", taskID))
	}

	task, err := o.store.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	allowed := []core.TaskStatus{core.TaskStatusAwaitingReview, core.TaskStatusPRCreated}
	if !core.StatusIn(task.Status, allowed) {
		return core.ErrInvalidStatus("approve", task.Status, allowed)
	}

	if err := o.store.Update(ctx, taskID, core.StatusUpdate(core.TaskStatusDone)); err != nil {
		return err
	}
	o.events.EmitStatus(taskID, core.TaskStatusDone, task.Status)
	o.logger.WithTask(string(taskID)).Info("task approved", "previous", task.Status)
	return nil
}

// SendFeedback routes a reviewer message to the task's agent. Live
// sessions get it spliced in directly; a task waiting on plan review or
// sitting in a reviewable status gets a resume session.
func (o *Orchestrator) SendFeedback(ctx context.Context, taskID core.TaskID, message string) error {
	if message == "" {
		return core.ErrValidation("EMPTY_FEEDBACK", "feedback message cannot be empty")
	}

	if err := o.store.AppendFeedback(ctx, taskID, message); err != nil {
		return err
	}

	o.mu.Lock()
	sess, live := o.sessions[taskID]
	if live && sess.runner != nil {
		run := sess.runner
		o.mu.Unlock()
		run.AddFeedback(message)
		if err := o.store.ClearFeedback(ctx, taskID); err != nil {
			o.logger.WithTask(string(taskID)).Warn("failed to clear delivered feedback", "error", err)
		}
		o.events.EmitLog(taskID, "Feedback sent to running agent")
		return nil
	}
	o.mu.Unlock()

	task, err := o.store.GetByID(ctx, taskID)
	if err != nil {
		return err
	}

	switch {
	case task.Status == core.TaskStatusPlanReview:
		// Feedback on a plan approves it and resumes execution.
		return o.StartAgent(ctx, taskID, true)
	case core.StatusIn(task.Status, core.ResumableStatuses):
		return o.StartAgent(ctx, taskID, true)
	default:
		return core.ErrInvalidStatus("feedback", task.Status, core.ResumableStatuses)
	}
}

// ExtendTimeout pushes a live session's deadline out by the configured
// increment and re-arms the warning.
func (o *Orchestrator) ExtendTimeout(taskID core.TaskID) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	sess, live := o.sessions[taskID]
	if !live || sess.runner == nil {
		return core.ErrState(core.CodeNoSession,
			fmt.Sprintf("task %s has no active agent session", taskID))
	}

	sess.deadline = sess.deadline.Add(o.cfg.ExtendBy)
	sess.warned = false
	sess.stopTimers()
	o.armTimersLocked(sess)

	o.events.EmitLog(taskID, fmt.Sprintf("Session extended by %s; new deadline %s",
		o.cfg.ExtendBy, sess.deadline.Format(time.RFC3339)))
	return nil
}

// IsAgentRunning reports whether a live session exists for the task. A
// cancelled session counts as not running even before its goroutine has
// drained.
func (o *Orchestrator) IsAgentRunning(taskID core.TaskID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[taskID]
	return ok && sess.runner != nil && !sess.cancelRequested && !sess.timedOut
}

// PendingReviewFeedback returns feedback recorded for the task that no
// run has consumed yet.
func (o *Orchestrator) PendingReviewFeedback(ctx context.Context, taskID core.TaskID) ([]string, error) {
	return o.store.PendingFeedback(ctx, taskID)
}

// ActiveSessions returns the task IDs with live sessions.
func (o *Orchestrator) ActiveSessions() []core.TaskID {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]core.TaskID, 0, len(o.sessions))
	for id := range o.sessions {
		out = append(out, id)
	}
	return out
}

// Shutdown cancels all live sessions and waits for them to drain or the
// context to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, sess := range o.sessions {
		if sess.runner != nil {
			sess.cancelRequested = true
			go sess.runner.Cancel()
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return core.ErrTimeout("shutdown timed out waiting for sessions").WithCause(ctx.Err())
	}
}

// armTimersLocked installs the warning and hard timers. Caller holds the
// registry mutex.
func (o *Orchestrator) armTimersLocked(sess *session) {
	taskID := sess.taskID
	warnIn := time.Until(sess.deadline.Add(-o.cfg.WarningLead))
	hardIn := time.Until(sess.deadline)

	sess.warnTimer = time.AfterFunc(warnIn, func() {
		o.mu.Lock()
		if sess.resolved || sess.warned {
			o.mu.Unlock()
			return
		}
		sess.warned = true
		remaining := int(time.Until(sess.deadline).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		// Emit outside the registry lock; the priority channel may block
		// on a slow subscriber.
		o.mu.Unlock()
		o.events.EmitTimeoutWarning(taskID, remaining)
	})

	sess.hardTimer = time.AfterFunc(hardIn, func() {
		o.mu.Lock()
		if sess.resolved || sess.timedOut {
			o.mu.Unlock()
			return
		}
		sess.timedOut = true
		run := sess.runner
		o.mu.Unlock()
		if run != nil {
			run.Cancel()
		}
	})
}

func (o *Orchestrator) removeSession(taskID core.TaskID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[taskID]; ok {
		sess.stopTimers()
		delete(o.sessions, taskID)
	}
}
