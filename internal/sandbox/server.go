package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/taskforge-ai/taskforge/internal/core"
)

// verify_server bounds.
const (
	verifyMinTimeout   = 5 * time.Second
	verifyMaxTimeout   = 120 * time.Second
	stabilizationDelay = 2 * time.Second
)

// verifyServer starts a long-lived process and watches its output for a
// readiness pattern. The stabilization delay after a match absorbs
// processes that print a ready banner and then crash.
func (e *Executor) verifyServer(ctx context.Context, command string, patterns []string, timeoutSeconds int) ToolResult {
	if strings.TrimSpace(command) == "" {
		return failure(core.ErrValidation("COMMAND_REQUIRED", "command cannot be empty"))
	}
	if len(patterns) == 0 {
		return failure(core.ErrValidation("PATTERNS_REQUIRED", "at least one success pattern is required"))
	}
	if decision := e.check(command); !decision.Allowed {
		return failure(core.ErrSandbox(core.CodeCommandDenied,
			fmt.Sprintf("command not allowed: %s", decision.Reason)))
	}

	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeout < verifyMinTimeout {
		timeout = verifyMinTimeout
	}
	if timeout > verifyMaxTimeout {
		timeout = verifyMaxTimeout
	}

	lowered := make([]string, len(patterns))
	for i, p := range patterns {
		lowered[i] = strings.ToLower(p)
	}

	cmd := shellCommand(command)
	cmd.Dir = e.root
	cmd.Env = narrowedEnv(e.root)
	configureProcAttr(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return failure(core.ErrSpawn(fmt.Sprintf("stdout pipe: %v", err)))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		_ = stdoutPipe.Close()
		return failure(core.ErrSpawn(fmt.Sprintf("stderr pipe: %v", err)))
	}
	if err := cmd.Start(); err != nil {
		_ = stdoutPipe.Close()
		_ = stderrPipe.Close()
		return failure(core.ErrSpawn(fmt.Sprintf("starting server command: %v", err)))
	}

	var output bytes.Buffer
	var outputMu sync.Mutex

	matched := make(chan string, 1) // first matching pattern wins
	exited := make(chan error, 1)

	scan := func(r io.Reader) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 256*1024)
		for scanner.Scan() {
			line := scanner.Text()
			outputMu.Lock()
			if output.Len() < streamKillLimit {
				output.WriteString(line)
				output.WriteString("\n")
			}
			outputMu.Unlock()

			lower := strings.ToLower(line)
			for _, p := range lowered {
				if strings.Contains(lower, p) {
					select {
					case matched <- p:
					default:
					}
					return
				}
			}
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); scan(stdoutPipe) }()
	go func() { defer wg.Done(); scan(stderrPipe) }()

	go func() {
		wg.Wait()
		exited <- cmd.Wait()
	}()

	captured := func() string {
		outputMu.Lock()
		defer outputMu.Unlock()
		return Truncate(output.String())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Exactly one resolution path fires; the select is the arbiter when
	// timeout and match race.
	select {
	case pattern := <-matched:
		// Hold the stabilization window before declaring success.
		stabilize := time.NewTimer(stabilizationDelay)
		defer stabilize.Stop()
		select {
		case err := <-exited:
			killTree(cmd)
			return ToolResult{
				Success: false,
				Output:  captured(),
				Error: core.ErrState(core.CodeServerCrashed,
					fmt.Sprintf("server crashed right after reporting ready (exit: %v)", err)).Error(),
			}
		case <-stabilize.C:
			killTree(cmd)
			go func() { <-exited }() // reap
			return ToolResult{
				Success: true,
				Output:  fmt.Sprintf("Server verified: output matched %q and process stayed up for %s", pattern, stabilizationDelay),
			}
		}

	case err := <-exited:
		killTree(cmd)
		return ToolResult{
			Success: false,
			Output:  captured(),
			Error: core.ErrState(core.CodeServerCrashed,
				fmt.Sprintf("server crashed before verification completed (exit: %v)", err)).Error(),
		}

	case <-timer.C:
		killTree(cmd)
		go func() { <-exited }()
		return ToolResult{
			Success: false,
			Output:  captured(),
			Error:   core.ErrTimeout(fmt.Sprintf("no success pattern matched within %s", timeout)).Error(),
		}

	case <-ctx.Done():
		killTree(cmd)
		go func() { <-exited }()
		return ToolResult{
			Success: false,
			Output:  captured(),
			Error:   core.ErrCancelled("server verification cancelled").Error(),
		}
	}
}
