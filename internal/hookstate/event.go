package hookstate

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is a Claude Code hook event name.
type EventType string

const (
	EventSessionStart     EventType = "SessionStart"
	EventUserPromptSubmit EventType = "UserPromptSubmit"
	EventPreToolUse       EventType = "PreToolUse"
	EventPostToolUse      EventType = "PostToolUse"
	EventStop             EventType = "Stop"
	EventSubagentStop     EventType = "SubagentStop"
	EventPreCompact       EventType = "PreCompact"
	EventNotification     EventType = "Notification"
	EventSessionEnd       EventType = "SessionEnd"
)

// Event is the JSON object Claude Code writes to a hook's stdin.
type Event struct {
	Type           EventType      `json:"hook_event_name"`
	SessionID      string         `json:"session_id"`
	TranscriptPath string         `json:"transcript_path,omitempty"`
	CWD            string         `json:"cwd,omitempty"`
	ToolName       string         `json:"tool_name,omitempty"`
	ToolInput      map[string]any `json:"tool_input,omitempty"`
	Prompt         string         `json:"prompt,omitempty"`
}

// ParseEvent decodes a hook payload. The event name and session id are required.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode hook event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, errors.New("hook event has no hook_event_name")
	}
	if ev.SessionID == "" {
		return Event{}, errors.New("hook event has no session_id")
	}
	return ev, nil
}

// FilePath returns tool_input.file_path, if present.
func (e Event) FilePath() string {
	if p, ok := e.ToolInput["file_path"].(string); ok {
		return p
	}
	return ""
}
