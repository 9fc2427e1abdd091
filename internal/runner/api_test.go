package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge-ai/taskforge/internal/core"
	"github.com/taskforge-ai/taskforge/internal/events"
	"github.com/taskforge-ai/taskforge/internal/logging"
	"github.com/taskforge-ai/taskforge/internal/provider"
	"github.com/taskforge-ai/taskforge/internal/sandbox"
)

// scriptedClient replays a fixed sequence of chat turns.
type scriptedClient struct {
	mu    sync.Mutex
	turns []chatTurn
	seen  [][]provider.Message
}

type chatTurn struct {
	resp *provider.ChatResponse
	err  error
}

func (c *scriptedClient) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make([]provider.Message, len(req.Messages))
	copy(snapshot, req.Messages)
	c.seen = append(c.seen, snapshot)

	if len(c.turns) == 0 {
		return nil, fmt.Errorf("script exhausted after %d turns", len(c.seen))
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	return turn.resp, turn.err
}

func (c *scriptedClient) Model() string { return "test-model" }

func (c *scriptedClient) lastMessages() []provider.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.seen) == 0 {
		return nil
	}
	return c.seen[len(c.seen)-1]
}

func textTurn(content string) chatTurn {
	return chatTurn{resp: &provider.ChatResponse{Content: content, FinishReason: "stop"}}
}

func emptyTurn() chatTurn {
	return chatTurn{resp: &provider.ChatResponse{FinishReason: "stop"}}
}

func errTurn(err error) chatTurn {
	return chatTurn{err: err}
}

func toolTurn(name, arguments string) chatTurn {
	return chatTurn{resp: &provider.ChatResponse{
		ToolCalls: []provider.ToolCall{{
			ID:       "call_" + name,
			Type:     "function",
			Function: provider.FunctionCall{Name: name, Arguments: arguments},
		}},
		FinishReason: "tool_calls",
	}}
}

func completeTurn(summary string) chatTurn {
	return toolTurn(sandbox.ToolTaskComplete, fmt.Sprintf(`{"summary":%q}`, summary))
}

// fakeExecutor records tool calls and answers from a script.
type fakeExecutor struct {
	mu           sync.Mutex
	calls        []recordedCall
	buildResults []bool // consumed by run_command, true = success
	block        chan struct{}
}

type recordedCall struct {
	name string
	args map[string]any
}

func (e *fakeExecutor) Execute(ctx context.Context, name string, args map[string]any) sandbox.ToolResult {
	e.mu.Lock()
	e.calls = append(e.calls, recordedCall{name: name, args: args})
	var buildOK, haveBuild bool
	if name == sandbox.ToolRunCommand && len(e.buildResults) > 0 {
		buildOK = e.buildResults[0]
		e.buildResults = e.buildResults[1:]
		haveBuild = true
	}
	block := e.block
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return sandbox.ToolResult{Success: false, Error: "killed"}
		}
	}

	if haveBuild && !buildOK {
		return sandbox.ToolResult{Success: false, Output: "compile error: undefined symbol", Error: "command failed"}
	}
	return sandbox.ToolResult{Success: true, Output: "ok"}
}

func (e *fakeExecutor) countCalls(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.name == name {
			n++
		}
	}
	return n
}

func testTask(buildCommand string) *core.Task {
	return &core.Task{
		ID:           "task-1",
		Title:        "Add health endpoint",
		Description:  "Expose GET /healthz",
		RepoURL:      "https://example.com/repo.git",
		Status:       core.TaskStatusPlanning,
		BuildCommand: buildCommand,
	}
}

func newAPIRunnerForTest(client *scriptedClient, exec *fakeExecutor, task *core.Task, maxIters int) (*APIRunner, *events.Bus) {
	bus := events.NewBus(100)
	return NewAPIRunner(APIConfig{
		Options: Options{
			Task:      task,
			Workspace: &core.Workspace{Path: "/tmp/ws"},
			Executor:  exec,
			Events:    events.NewBroadcaster(bus, logging.NewNop()),
			Logger:    logging.NewNop(),
		},
		Client:        client,
		MaxIterations: maxIters,
	}), bus
}

func TestAPIRunnerCompletesOnTaskComplete(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		textTurn("Looking at the task."),
		completeTurn("added the endpoint"),
	}}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)

	result := r.Run(context.Background())
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "added the endpoint", result.Summary)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 1, exec.countCalls(sandbox.ToolTaskComplete))
	assert.False(t, r.Running())
}

func TestAPIRunnerExecutesToolCallsAndAppendsResults(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		toolTurn(sandbox.ToolReadFile, `{"path":"main.go"}`),
		completeTurn("done"),
	}}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)

	result := r.Run(context.Background())
	require.True(t, result.Success)
	require.Equal(t, 1, exec.countCalls(sandbox.ToolReadFile))

	// The second request carries the assistant tool call and its result.
	last := client.lastMessages()
	require.NotEmpty(t, last)
	var sawToolResult bool
	for _, msg := range last {
		if msg.Role == provider.RoleTool && msg.ToolCallID == "call_"+sandbox.ToolReadFile {
			sawToolResult = true
			assert.Equal(t, "ok", msg.Content)
		}
	}
	assert.True(t, sawToolResult, "tool result message missing from history")
}

func TestAPIRunnerInvalidToolArgumentsContinueTheLoop(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		toolTurn(sandbox.ToolReadFile, `[1, 2`), // repairs to an array, not an object
		completeTurn("done"),
	}}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)

	result := r.Run(context.Background())
	require.True(t, result.Success)
	assert.Equal(t, 0, exec.countCalls(sandbox.ToolReadFile))
}

func TestAPIRunnerEmptyRepliesAbortAfterThree(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		emptyTurn(), emptyTurn(), emptyTurn(),
	}}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)

	result := r.Run(context.Background())
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "3 consecutive")
}

func TestAPIRunnerProviderErrorsAbortAfterThree(t *testing.T) {
	boom := fmt.Errorf("connection refused")
	client := &scriptedClient{turns: []chatTurn{
		errTurn(boom), errTurn(boom), errTurn(boom),
	}}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)

	result := r.Run(context.Background())
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "consecutive provider failures")
}

func TestAPIRunnerAnomalyCounterResetsOnProgress(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		emptyTurn(), emptyTurn(),
		textTurn("still here"),
		emptyTurn(), emptyTurn(),
		completeTurn("done"),
	}}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)

	result := r.Run(context.Background())
	require.True(t, result.Success, "error: %s", result.Error)
}

func TestAPIRunnerBoundedVariantStopsAtMaxIterations(t *testing.T) {
	var turns []chatTurn
	for i := 0; i < 10; i++ {
		turns = append(turns, textTurn(fmt.Sprintf("thinking %d", i)))
	}
	client := &scriptedClient{turns: turns}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 5)

	result := r.Run(context.Background())
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "5 iterations")
	assert.Equal(t, 5, result.Iterations)
}

func TestAPIRunnerFeedbackSplicedAsUserTurn(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		textTurn("working"),
		completeTurn("done"),
	}}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)
	r.AddFeedback("please also update the README")

	result := r.Run(context.Background())
	require.True(t, result.Success)

	first := client.seen[0]
	var found bool
	for _, msg := range first {
		if msg.Role == provider.RoleUser && msg.Content == "Reviewer feedback: please also update the README" {
			found = true
		}
	}
	assert.True(t, found, "feedback not spliced into history")
}

func TestAPIRunnerCancelStopsLoop(t *testing.T) {
	block := make(chan struct{})
	exec := &fakeExecutor{block: block}
	client := &scriptedClient{turns: []chatTurn{
		toolTurn(sandbox.ToolRunCommand, `{"command":"sleep 100"}`),
		completeTurn("never reached"),
	}}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)

	done := make(chan core.RunResult, 1)
	go func() { done <- r.Run(context.Background()) }()

	// Wait until the runner is inside the blocking tool call.
	require.Eventually(t, func() bool {
		return exec.countCalls(sandbox.ToolRunCommand) == 1
	}, time.Second, 5*time.Millisecond)

	r.Cancel()
	close(block)

	select {
	case result := <-done:
		assert.False(t, result.Success)
		assert.Equal(t, "cancelled", result.Error)
		assert.False(t, r.Running())
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestAPIRunnerIsSingleUse(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{completeTurn("done")}}
	exec := &fakeExecutor{}
	r, _ := newAPIRunnerForTest(client, exec, testTask(""), 0)

	first := r.Run(context.Background())
	require.True(t, first.Success)

	second := r.Run(context.Background())
	assert.False(t, second.Success)
	assert.Contains(t, second.Error, "already used")
}

func TestBuildValidationFailOnceThenSucceed(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		completeTurn("first pass"),
		completeTurn("fixed the build"), // after the fix instruction
	}}
	exec := &fakeExecutor{buildResults: []bool{false, true}}
	r, _ := newAPIRunnerForTest(client, exec, testTask("make test"), 0)

	result := r.Run(context.Background())
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 2, exec.countCalls(sandbox.ToolRunCommand))
}

func TestBuildValidationAlwaysFailingStopsAtThreeAttempts(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		completeTurn("first pass"),
		completeTurn("attempted fix 1"),
		completeTurn("attempted fix 2"),
	}}
	exec := &fakeExecutor{buildResults: []bool{false, false, false}}
	r, _ := newAPIRunnerForTest(client, exec, testTask("make test"), 0)

	result := r.Run(context.Background())
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "after 3 attempts")
	assert.Equal(t, 3, exec.countCalls(sandbox.ToolRunCommand))
}

func TestBuildValidationFixPromptReachesAgent(t *testing.T) {
	client := &scriptedClient{turns: []chatTurn{
		completeTurn("first pass"),
		completeTurn("fixed"),
	}}
	exec := &fakeExecutor{buildResults: []bool{false, true}}
	r, _ := newAPIRunnerForTest(client, exec, testTask("make test"), 0)

	result := r.Run(context.Background())
	require.True(t, result.Success)

	last := client.lastMessages()
	var found bool
	for _, msg := range last {
		if msg.Role == provider.RoleUser && strings.Contains(msg.Content, "compile error: undefined symbol") {
			found = true
		}
	}
	assert.True(t, found, "build output missing from fix instruction")
}
