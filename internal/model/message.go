// Package model defines the wire frames and session records shared by
// the watcher, PTY registry, and WebSocket layers.
package model

import (
	"encoding/json"
	"time"
)

// EventType identifies an outbound WebSocket frame.
type EventType string

const (
	// Session channel, server -> client
	EventMessage             EventType = "message"
	EventToolApprovalRequest EventType = "tool_approval_request"
	EventStatus              EventType = "status"
	EventSessionRedirected   EventType = "session_redirected"
	EventSlashCommands       EventType = "slash_commands"
	EventThinkingDelta       EventType = "thinking_delta"
	EventReplayComplete      EventType = "replay_complete"
	EventTasks               EventType = "tasks"
	EventSubagentStarted     EventType = "subagent_started"
	EventSubagentToolCall    EventType = "subagent_tool_call"
	EventSubagentCompleted   EventType = "subagent_completed"

	// Terminal channel, server -> client
	EventAttached EventType = "attached"
	EventOutput   EventType = "output"
	EventExit     EventType = "exit"

	// Both channels
	EventPing  EventType = "ping"
	EventError EventType = "error"
)

// FrameType identifies an inbound WebSocket frame.
type FrameType string

const (
	// Handshake, both channels
	FrameAuth FrameType = "auth"

	// Session channel, client -> server
	FramePrompt    FrameType = "prompt"
	FrameApprove   FrameType = "approve"
	FrameDeny      FrameType = "deny"
	FrameInterrupt FrameType = "interrupt"

	// Terminal channel, client -> server
	FrameAttach FrameType = "attach"
	FrameInput  FrameType = "input"
	FrameResize FrameType = "resize"
)

// ChatMessage is one normalized transcript entry. Index numbers
// delivered messages contiguously per session.
type ChatMessage struct {
	Index     int       `json:"index"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Event is an outbound frame. One JSON object per text frame; fields
// other than Type are populated per event type.
type Event struct {
	Type EventType `json:"type"`

	// message
	Message *ChatMessage `json:"message,omitempty"`

	// replay_complete; both fields are always present on that frame,
	// zero included, so they are pointers rather than omitempty ints
	Total       *int `json:"total,omitempty"`
	OldestIndex *int `json:"oldestIndex,omitempty"`

	// session_redirected, attached
	SessionID string `json:"sessionId,omitempty"`
	Fresh     bool   `json:"fresh,omitempty"`

	// output, thinking_delta
	Data string `json:"data,omitempty"`

	// exit, status
	Code  *int   `json:"code,omitempty"`
	State string `json:"state,omitempty"`

	// error
	Error string `json:"error,omitempty"`

	// collaborator-owned events (tool_approval_request, tasks,
	// subagent_*, slash_commands) carry an opaque payload
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame is an inbound frame from a client.
type Frame struct {
	Type FrameType `json:"type"`

	// auth
	Token string `json:"token,omitempty"`

	// prompt
	Text string `json:"text,omitempty"`

	// approve / deny
	RequestID string `json:"requestId,omitempty"`

	// attach
	SessionID string `json:"sessionId,omitempty"`
	Shell     string `json:"shell,omitempty"`
	Cwd       string `json:"cwd,omitempty"`

	// input
	Data string `json:"data,omitempty"`

	// resize
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// MessagePage is one page of transcript history, newest-last.
type MessagePage struct {
	Messages []ChatMessage `json:"messages"`
	Total    int           `json:"total"`
	HasMore  bool          `json:"hasMore"`
}

// TerminalStatus represents the lifecycle state of a terminal session.
type TerminalStatus string

const (
	TerminalStatusRunning TerminalStatus = "running"
	TerminalStatusExited  TerminalStatus = "exited"
	TerminalStatusEvicted TerminalStatus = "evicted"
)

// TerminalSession is the persisted record of one shell process.
type TerminalSession struct {
	ID          string         `json:"id"`
	Shell       string         `json:"shell"`
	Cwd         string         `json:"cwd,omitempty"`
	Status      TerminalStatus `json:"status"`
	ExitCode    *int           `json:"exitCode,omitempty"`
	PID         *int           `json:"pid,omitempty"`
	LogFilePath string         `json:"logFilePath,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
