package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskforge-ai/taskforge/internal/core"
)

// streamEvent is one line of the agent CLI's stream-json output:
//
//	{"type":"system","subtype":"init","tools":["Bash","Edit",...]}
//	{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{...}}]}}
//	{"type":"assistant","message":{"content":[{"type":"text","text":"..."}]}}
//	{"type":"result","subtype":"success","result":"..."}
type streamEvent struct {
	Type    string         `json:"type"`
	Subtype string         `json:"subtype"`
	Message *streamMessage `json:"message,omitempty"`
	Result  string         `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Tools   []string       `json:"tools,omitempty"`
}

type streamMessage struct {
	Content []streamContent `json:"content"`
}

type streamContent struct {
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Text  string `json:"text,omitempty"`
	Input any    `json:"input,omitempty"`
}

// streamParser converts the CLI's JSON lines into agent events and
// remembers the final result line.
type streamParser struct {
	agent string

	resultSeen    bool
	resultSuccess bool
	resultText    string
}

func newStreamParser(agent string) *streamParser {
	return &streamParser{agent: agent}
}

// ParseLine processes one line of output. Non-JSON lines yield nothing.
func (p *streamParser) ParseLine(line string) []core.AgentEvent {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") {
		return nil
	}

	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil
	}

	var out []core.AgentEvent
	switch ev.Type {
	case "system":
		if ev.Subtype == "init" {
			out = append(out, core.NewAgentEvent(core.AgentEventStarted, p.agent, "Agent initialized").
				WithData(map[string]any{"tools": ev.Tools}))
		}

	case "assistant":
		if ev.Message == nil {
			break
		}
		for _, content := range ev.Message.Content {
			switch content.Type {
			case "tool_use":
				out = append(out, core.NewToolActivity(p.agent, content.Name, core.ActivityRunning,
					"Using tool: "+content.Name).
					WithData(map[string]any{"args": truncateAny(content.Input, 500)}))
			case "thinking":
				out = append(out, core.NewAgentEvent(core.AgentEventThinking, p.agent, "Thinking..."))
			case "text":
				if content.Text != "" {
					out = append(out, core.NewAgentEvent(core.AgentEventChat, p.agent, content.Text))
				}
			}
		}

	case "result":
		p.resultSeen = true
		p.resultSuccess = ev.Subtype == "success"
		p.resultText = ev.Result
		if ev.Error != "" {
			p.resultText = ev.Error
		}
		eventType := core.AgentEventCompleted
		if !p.resultSuccess {
			eventType = core.AgentEventError
		}
		out = append(out, core.NewAgentEvent(eventType, p.agent, ev.Result))
	}
	return out
}

func truncateAny(v any, maxLen int) any {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(b)
		}
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "...[truncated]"
}
