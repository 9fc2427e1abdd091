//go:build !windows

package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/events"
	"github.com/taskforge-ai/taskforge/internal/logging"
)

// writeFakeAgent writes a shell script standing in for the agent CLI.
// The prompt arrives as the last argument; the script ignores it.
func writeFakeAgent(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-agent")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newSubprocessRunnerForTest(t *testing.T, command string) (*SubprocessRunner, <-chan events.Event) {
	t.Helper()
	bus := events.NewBus(100)
	t.Cleanup(bus.Close)
	ch := bus.Subscribe()

	return NewSubprocessRunner(SubprocessConfig{
		Options: Options{
			Task:      testTask(""),
			Workspace: &core.Workspace{Path: t.TempDir()},
			Executor:  &fakeExecutor{},
			Events:    events.NewBroadcaster(bus, logging.NewNop()),
			Logger:    logging.NewNop(),
		},
		Command:      command,
		CycleTimeout: 10 * time.Second,
	}), ch
}

func collectEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubprocessRunnerSuccess(t *testing.T) {
	agent := writeFakeAgent(t, `
echo '{"type":"system","subtype":"init","tools":["Bash"]}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}'
echo '{"type":"result","subtype":"success","result":"implemented the endpoint"}'
`)
	r, ch := newSubprocessRunnerForTest(t, agent)

	result := r.Run(context.Background())
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "implemented the endpoint", result.Summary)
	assert.Equal(t, 1, result.Iterations)
	assert.False(t, r.Running())

	var types []core.AgentEventType
	for _, ev := range collectEvents(ch) {
		if ae, ok := ev.(events.AgentActivityEvent); ok {
			types = append(types, ae.Activity.Type)
		}
	}
	assert.Contains(t, types, core.AgentEventStarted)
	assert.Contains(t, types, core.AgentEventChat)
	assert.Contains(t, types, core.AgentEventCompleted)
}

func TestSubprocessRunnerReportedFailure(t *testing.T) {
	agent := writeFakeAgent(t, `
echo '{"type":"result","subtype":"error_during_execution","error":"agent gave up"}'
`)
	r, _ := newSubprocessRunnerForTest(t, agent)

	result := r.Run(context.Background())
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "agent gave up")
}

func TestSubprocessRunnerNonZeroExitWithoutResult(t *testing.T) {
	agent := writeFakeAgent(t, `
echo "crash" >&2
exit 1
`)
	r, _ := newSubprocessRunnerForTest(t, agent)

	result := r.Run(context.Background())
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "exited with error")
}

func TestSubprocessRunnerStderrBecomesLogs(t *testing.T) {
	agent := writeFakeAgent(t, `
echo "progress: analyzing" >&2
echo '{"type":"result","subtype":"success","result":"ok"}'
`)
	r, ch := newSubprocessRunnerForTest(t, agent)

	result := r.Run(context.Background())
	require.True(t, result.Success)

	var logs []string
	for _, ev := range collectEvents(ch) {
		if le, ok := ev.(events.LogEvent); ok {
			logs = append(logs, le.Message)
		}
	}
	assert.Contains(t, logs, "progress: analyzing")
}

func TestSubprocessRunnerCancelKillsSubprocess(t *testing.T) {
	agent := writeFakeAgent(t, `
echo '{"type":"system","subtype":"init"}'
sleep 60
`)
	r, _ := newSubprocessRunnerForTest(t, agent)

	done := make(chan core.RunResult, 1)
	go func() { done <- r.Run(context.Background()) }()

	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond) // let the process start
	start := time.Now()
	r.Cancel()

	select {
	case result := <-done:
		assert.False(t, result.Success)
		assert.Equal(t, "cancelled", result.Error)
		assert.Less(t, time.Since(start), 5*time.Second, "kill should not wait for sleep")
		assert.False(t, r.Running())
	case <-time.After(10 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestSubprocessRunnerMissingCLI(t *testing.T) {
	r, _ := newSubprocessRunnerForTest(t, "definitely-not-a-real-agent-cli")

	result := r.Run(context.Background())
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")
}

func TestSubprocessRunnerFeedbackTriggersResumeCycle(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "cycles")
	agent := writeFakeAgent(t, `
echo x >> `+marker+`
echo '{"type":"result","subtype":"success","result":"cycle done"}'
`)
	r, _ := newSubprocessRunnerForTest(t, agent)
	r.AddFeedback("also add tests")

	// Feedback queued before Run is consumed by the first cycle; feedback
	// queued during Run gets its own resume cycle. Queue more mid-run.
	done := make(chan core.RunResult, 1)
	go func() { done <- r.Run(context.Background()) }()
	result := <-done
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 1, result.Iterations)

	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data))
}
