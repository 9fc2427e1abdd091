//go:build !windows

package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCommand_Success(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll)
	res := e.Execute(context.Background(), ToolRunCommand, map[string]any{"command": "echo hello"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hello", res.Output)
}

func TestRunCommand_Denied(t *testing.T) {
	e := newTestExecutor(t) // real whitelist
	res := e.Execute(context.Background(), ToolRunCommand, map[string]any{"command": "rm -rf /"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not allowed")
}

func TestRunCommand_StderrMarker(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll)
	res := e.Execute(context.Background(), ToolRunCommand,
		map[string]any{"command": "echo out; echo err 1>&2"})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "out")
	assert.Contains(t, res.Output, "[STDERR]")
	assert.Contains(t, res.Output, "err")
	assert.Less(t, strings.Index(res.Output, "out"), strings.Index(res.Output, "[STDERR]"))
}

func TestRunCommand_NonZeroExit(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll)
	res := e.Execute(context.Background(), ToolRunCommand, map[string]any{"command": "exit 3"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "command failed")
}

func TestRunCommand_Timeout(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll).WithCommandTimeout(200 * time.Millisecond)

	start := time.Now()
	res := e.Execute(context.Background(), ToolRunCommand,
		map[string]any{"command": "echo partial; sleep 10"})
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
	assert.Contains(t, res.Output, "partial", "partial output is reported on timeout")
	assert.Less(t, elapsed, 5*time.Second, "process tree must be killed, not waited for")
}

func TestRunCommand_KillsProcessTree(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll).WithCommandTimeout(200 * time.Millisecond)

	// The child spawns its own child; both must die with the group.
	start := time.Now()
	res := e.Execute(context.Background(), ToolRunCommand,
		map[string]any{"command": "sh -c 'sleep 30' & sleep 30"})
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunCommand_OutputExhaustionKills(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll)

	start := time.Now()
	res := e.Execute(context.Background(), ToolRunCommand,
		map[string]any{"command": "yes xxxxxxxxxxxxxxxx"})
	elapsed := time.Since(start)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "output limit")
	assert.Less(t, elapsed, 10*time.Second, "runaway output must trigger a kill, not a timeout")
	assert.LessOrEqual(t, len(res.Output), MaxOutputSize+len("\n[Output truncated]"))
}

func TestRunCommand_Cancellation(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan ToolResult, 1)
	go func() {
		done <- e.Execute(ctx, ToolRunCommand, map[string]any{"command": "sleep 30"})
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "command cancelled")
		assert.NotContains(t, res.Error, "signal: killed")
	case <-time.After(5 * time.Second):
		t.Fatal("cancellation did not kill the command")
	}
}

func TestRunCommand_NarrowedEnvironment(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll)
	res := e.Execute(context.Background(), ToolRunCommand, map[string]any{"command": "echo HOME=$HOME"})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "HOME="+e.Root(), "HOME must be pinned to the workspace")
}

func TestRunCommand_ManagedMarker(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll)
	res := e.Execute(context.Background(), ToolRunCommand,
		map[string]any{"command": "echo MANAGED=$" + ManagedEnvVar})
	require.True(t, res.Success)
	assert.Contains(t, res.Output, "MANAGED=1")
}

func TestRunCommand_Empty(t *testing.T) {
	e := newTestExecutor(t).WithCheck(allowAll)
	res := e.Execute(context.Background(), ToolRunCommand, map[string]any{"command": " "})
	assert.False(t, res.Success)
}
