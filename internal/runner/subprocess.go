package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/logging"
	"github.com/taskforge-ai/taskforge/internal/sandbox"
)

// defaultCycleTimeout bounds one subprocess cycle. The orchestrator's
// session deadline is the primary limit; this is a backstop.
const defaultCycleTimeout = 3 * time.Hour

// SubprocessConfig configures a subprocess-driven runner.
type SubprocessConfig struct {
	Options

	// Command is the agent CLI executable, e.g. "claude".
	Command string

	// ExtraArgs are appended to the streaming flags before the prompt.
	ExtraArgs []string

	// CycleTimeout bounds one agent cycle; 0 means defaultCycleTimeout.
	CycleTimeout time.Duration
}

// SubprocessRunner drives a task by handing a single comprehensive prompt
// to an external coding-agent CLI. The CLI owns its own conversation
// state, so feedback arriving mid-run is queued and delivered as a resume
// cycle after the current one exits.
type SubprocessRunner struct {
	cfg    SubprocessConfig
	logger *logging.Logger
	agent  string

	mu        sync.Mutex
	running   bool
	cancelled bool
	started   bool
	feedback  []string
	cmd       *exec.Cmd
	cancel    context.CancelFunc

	cycles  int
	summary string
}

var _ core.Runner = (*SubprocessRunner)(nil)

// NewSubprocessRunner creates a subprocess-driven runner for one task.
func NewSubprocessRunner(cfg SubprocessConfig) *SubprocessRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	agent := filepath.Base(cfg.Command)
	return &SubprocessRunner{
		cfg:    cfg,
		logger: logger.WithTask(string(cfg.Task.ID)).WithAgent(agent),
		agent:  agent,
	}
}

// Run executes agent cycles until the work is done, cancelled, or failed.
func (r *SubprocessRunner) Run(ctx context.Context) core.RunResult {
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
	modes := r.cfg.Modes

	prompt := BuildComprehensivePrompt(task, modes, r.drainFeedback())
	if err := r.runCycle(ctx, prompt); err != nil {
		return r.failure(err)
	}

	// Feedback that arrived during the cycle gets its own resume cycle.
	for {
		pending := r.drainFeedback()
		if len(pending) == 0 {
			break
		}
		resume := modes
		resume.Resume = true
		if err := r.runCycle(ctx, BuildComprehensivePrompt(task, resume, pending)); err != nil {
			return r.failure(err)
		}
	}

	if task.BuildCommand != "" && !modes.PlanOnly {
		if err := validateBuild(ctx, r.cfg.Executor, r, task, r.cfg.Events); err != nil {
			return r.failure(err)
		}
	}

	return core.RunResult{Success: true, Summary: r.summary, Iterations: r.cycles}
}

// Cancel kills the live subprocess tree and stops further cycles.
func (r *SubprocessRunner) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	cancel := r.cancel
	cmd := r.cmd
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cmd != nil {
		killTree(cmd)
	}
}

// AddFeedback queues a message for the next resume cycle. The subprocess
// owns its conversation state, so live injection is not possible.
func (r *SubprocessRunner) AddFeedback(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feedback = append(r.feedback, message)
}

// Running reports whether a cycle is active.
func (r *SubprocessRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *SubprocessRunner) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *SubprocessRunner) drainFeedback() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.feedback
	r.feedback = nil
	return pending
}

func (r *SubprocessRunner) failure(err error) core.RunResult {
	if r.isCancelled() || core.IsCategory(err, core.ErrCatCancelled) {
		return core.RunResult{Success: false, Error: "cancelled", Iterations: r.cycles}
	}
	r.cfg.Events.EmitAgentEvent(r.cfg.Task.ID, core.NewAgentEvent(core.AgentEventError, r.agent, err.Error()))
	return core.RunResult{Success: false, Error: err.Error(), Iterations: r.cycles}
}

// fixAndRerun runs one resume cycle instructing the agent to fix a build
// failure.
func (r *SubprocessRunner) fixAndRerun(ctx context.Context, buildOutput string) error {
	resume := r.cfg.Modes
	resume.Resume = true
	prompt := BuildComprehensivePrompt(r.cfg.Task, resume, nil) +
		"\n" + buildFixPrompt(r.cfg.Task.BuildCommand, buildOutput)
	return r.runCycle(ctx, prompt)
}

// runCycle spawns the agent CLI once and streams its output into events.
func (r *SubprocessRunner) runCycle(ctx context.Context, prompt string) error {
	if r.isCancelled() || ctx.Err() != nil {
		return core.ErrCancelled("run cancelled")
	}

	timeout := r.cfg.CycleTimeout
	if timeout <= 0 {
		timeout = defaultCycleTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path, err := exec.LookPath(r.cfg.Command)
	if err != nil {
		return core.ErrSpawn(fmt.Sprintf("agent CLI %q not found", r.cfg.Command)).WithCause(err)
	}

	args := []string{"--print", "--output-format", "stream-json", "--verbose"}
	args = append(args, r.cfg.ExtraArgs...)
	args = append(args, prompt)

	cmd := exec.Command(path, args...)
	cmd.Dir = r.cfg.Workspace.Path
	cmd.Env = append(os.Environ(),
		sandbox.ManagedEnvVar+"=1",
		"TASKFORGE_TASK_ID="+string(r.cfg.Task.ID),
	)
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return core.ErrSpawn("creating stdout pipe").WithCause(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return core.ErrSpawn("creating stderr pipe").WithCause(err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return core.ErrSpawn("starting agent CLI").WithCause(err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()
	r.cycles++
	r.logger.Info("agent cycle started", "pid", cmd.Process.Pid, "cycle", r.cycles)

	stop := context.AfterFunc(ctx, func() { killTree(cmd) })
	defer stop()

	parser := newStreamParser(r.agent)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.streamEvents(stdout, parser)
	}()
	go func() {
		defer wg.Done()
		r.streamLogs(stderr)
	}()

	wg.Wait()
	waitErr := cmd.Wait()

	r.mu.Lock()
	r.cmd = nil
	r.mu.Unlock()

	if r.isCancelled() || ctx.Err() == context.Canceled {
		return core.ErrCancelled("run cancelled")
	}
	if ctx.Err() == context.DeadlineExceeded {
		return core.ErrTimeout(fmt.Sprintf("agent cycle timed out after %v", timeout))
	}

	if parser.resultSeen {
		if !parser.resultSuccess {
			msg := parser.resultText
			if msg == "" {
				msg = "agent reported failure"
			}
			return core.ErrState("AGENT_FAILED", msg)
		}
		r.summary = parser.resultText
		return nil
	}
	if waitErr != nil {
		return core.ErrSpawn("agent CLI exited with error").WithCause(waitErr)
	}
	return nil
}

// streamEvents parses stdout JSON lines into broadcast agent events.
func (r *SubprocessRunner) streamEvents(pipe io.Reader, parser *streamParser) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		for _, ev := range parser.ParseLine(scanner.Text()) {
			r.cfg.Events.EmitAgentEvent(r.cfg.Task.ID, ev)
		}
	}
	// Scanner errors are expected when the pipe closes on kill.
}

// streamLogs forwards stderr lines as task logs.
func (r *SubprocessRunner) streamLogs(pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		r.cfg.Events.EmitLog(r.cfg.Task.ID, line)
	}
}
