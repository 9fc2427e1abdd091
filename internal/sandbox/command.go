package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskforge-ai/taskforge/internal/core"
)

// commandTimeout is the wall-clock ceiling for run_command.
const commandTimeout = 30 * time.Second

// ManagedEnvVar marks processes spawned inside a workspace so orphaned
// trees can be found and killed after a restart.
const ManagedEnvVar = "TASKFORGE_MANAGED"

func (e *Executor) runCommand(ctx context.Context, command string) ToolResult {
	if strings.TrimSpace(command) == "" {
		return failure(core.ErrValidation("COMMAND_REQUIRED", "command cannot be empty"))
	}
	if decision := e.check(command); !decision.Allowed {
		return failure(core.ErrSandbox(core.CodeCommandDenied,
			fmt.Sprintf("command not allowed: %s", decision.Reason)))
	}

	res := e.spawn(ctx, command, e.cmdTimeout)
	if res.spawnErr != nil {
		return failure(core.ErrSpawn(res.spawnErr.Error()))
	}

	output := combineStreams(res.stdout, res.stderr)

	switch {
	case res.exhausted != "":
		return ToolResult{
			Success: false,
			Output:  Truncate(output),
			Error: core.ErrResource(core.CodeOutputExceeded,
				fmt.Sprintf("%s exceeded the output limit, process killed", res.exhausted)).Error(),
		}
	case res.timedOut:
		return ToolResult{
			Success: false,
			Output:  Truncate(output),
			Error:   core.ErrTimeout(fmt.Sprintf("command timed out after %s", e.cmdTimeout)).Error(),
		}
	case res.cancelled:
		return ToolResult{
			Success: false,
			Output:  Truncate(output),
			Error:   core.ErrCancelled("command cancelled").Error(),
		}
	case res.exitErr != nil:
		return ToolResult{
			Success: false,
			Output:  Truncate(output),
			Error:   fmt.Sprintf("command failed: %v", res.exitErr),
		}
	}

	if output == "" {
		output = "(no output)"
	}
	return success(output)
}

// spawnResult carries everything observed from one spawned command.
type spawnResult struct {
	stdout    string
	stderr    string
	timedOut  bool
	cancelled bool
	exhausted string // which stream tripped the kill guard, if any
	exitErr   error
	spawnErr  error
}

// spawn runs a shell command in the workspace with a narrowed environment
// and a process group of its own, enforcing the timeout and per-stream
// output guards. The whole process tree dies with the direct child.
func (e *Executor) spawn(ctx context.Context, command string, timeout time.Duration) spawnResult {
	var res spawnResult

	cmd := shellCommand(command)
	cmd.Dir = e.root
	cmd.Env = narrowedEnv(e.root)
	configureProcAttr(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		res.spawnErr = fmt.Errorf("stdout pipe: %w", err)
		return res
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		_ = stdoutPipe.Close()
		res.spawnErr = fmt.Errorf("stderr pipe: %w", err)
		return res
	}

	if err := cmd.Start(); err != nil {
		_ = stdoutPipe.Close()
		_ = stderrPipe.Close()
		res.spawnErr = fmt.Errorf("starting command: %w", err)
		return res
	}

	var killedBy atomic.Value // string: stream name or "timeout"
	killOnce := sync.Once{}
	kill := func(reason string) {
		killOnce.Do(func() {
			killedBy.Store(reason)
			killTree(cmd)
		})
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go drainLimited(&wg, stdoutPipe, &stdout, func() { kill("stdout") })
	go drainLimited(&wg, stderrPipe, &stderr, func() { kill("stderr") })

	timer := time.AfterFunc(timeout, func() { kill("timeout") })
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() { kill("cancelled") })
	defer stop()

	wg.Wait()
	res.exitErr = cmd.Wait()

	res.stdout = stdout.String()
	res.stderr = stderr.String()

	switch killedBy.Load() {
	case "timeout":
		res.timedOut = true
	case "cancelled":
		res.cancelled = true
	case "stdout":
		res.exhausted = "stdout"
	case "stderr":
		res.exhausted = "stderr"
	}
	return res
}

// drainLimited copies a stream into buf until EOF, invoking onExceed once
// the stream passes the kill limit. Reading continues afterwards so the
// dying process cannot block on a full pipe.
func drainLimited(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer, onExceed func()) {
	defer wg.Done()
	chunk := make([]byte, 4096)
	exceeded := false
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if !exceeded {
				buf.Write(chunk[:n])
				if buf.Len() > streamKillLimit {
					exceeded = true
					onExceed()
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// combineStreams concatenates captured stdout and stderr with an explicit
// marker between them.
func combineStreams(stdout, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stderr == "":
		return stdout
	case stdout == "":
		return "[STDERR]\n" + stderr
	default:
		return stdout + "\n[STDERR]\n" + stderr
	}
}

// narrowedEnv pins home and user identity to the workspace so spawned
// commands do not trivially see host credentials through the environment.
// Not a hard security boundary.
func narrowedEnv(workspace string) []string {
	passthrough := []string{"PATH", "LANG", "LC_ALL", "TZ", "TERM", "GOPATH", "GOCACHE"}
	env := make([]string, 0, len(passthrough)+4)
	for _, key := range passthrough {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	env = append(env,
		"HOME="+workspace,
		"USERPROFILE="+workspace,
		"TMPDIR="+os.TempDir(),
		ManagedEnvVar+"=1",
	)
	return env
}

func shellCommand(command string) *exec.Cmd {
	// #nosec G204 -- the command has passed the whitelist gate and runs
	// inside the sandboxed workspace.
	return exec.Command("sh", "-c", command)
}
