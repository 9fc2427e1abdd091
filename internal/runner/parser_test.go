package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge-ai/taskforge/internal/core"
)

func TestStreamParserInit(t *testing.T) {
	p := newStreamParser("claude")
	evs := p.ParseLine(`{"type":"system","subtype":"init","tools":["Bash","Edit"]}`)
	require.Len(t, evs, 1)
	assert.Equal(t, core.AgentEventStarted, evs[0].Type)
	assert.Equal(t, "claude", evs[0].Agent)
}

func TestStreamParserAssistantContent(t *testing.T) {
	p := newStreamParser("claude")
	evs := p.ParseLine(`{"type":"assistant","message":{"content":[` +
		`{"type":"text","text":"Reading the code."},` +
		`{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}`)
	require.Len(t, evs, 2)
	assert.Equal(t, core.AgentEventChat, evs[0].Type)
	assert.Equal(t, "Reading the code.", evs[0].Message)
	assert.Equal(t, core.AgentEventToolUse, evs[1].Type)
	assert.Equal(t, "Bash", evs[1].Tool)
}

func TestStreamParserResult(t *testing.T) {
	p := newStreamParser("claude")
	evs := p.ParseLine(`{"type":"result","subtype":"success","result":"all done"}`)
	require.Len(t, evs, 1)
	assert.Equal(t, core.AgentEventCompleted, evs[0].Type)
	assert.True(t, p.resultSeen)
	assert.True(t, p.resultSuccess)
	assert.Equal(t, "all done", p.resultText)
}

func TestStreamParserFailureResult(t *testing.T) {
	p := newStreamParser("claude")
	evs := p.ParseLine(`{"type":"result","subtype":"error_during_execution","result":"","error":"ran out of turns"}`)
	require.Len(t, evs, 1)
	assert.Equal(t, core.AgentEventError, evs[0].Type)
	assert.False(t, p.resultSuccess)
	assert.Equal(t, "ran out of turns", p.resultText)
}

func TestStreamParserIgnoresNoise(t *testing.T) {
	p := newStreamParser("claude")
	assert.Nil(t, p.ParseLine(""))
	assert.Nil(t, p.ParseLine("plain progress text"))
	assert.Nil(t, p.ParseLine("{not valid json"))
}

func TestTruncateAny(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	got, ok := truncateAny(string(long), 500).(string)
	require.True(t, ok)
	assert.Len(t, got, 500+len("...[truncated]"))
	assert.Nil(t, truncateAny(nil, 500))
}
