package agent

import "recipe-assistant/internal/conversation"

// State is a phase of the orchestration loop.
type State string

const (
	StateGenerating    State = "generating"
	StateAwaitingTool  State = "awaiting-tool"
	StateToolExecuting State = "tool-executing"
	StateDone          State = "done"
)

// FinishReason says why a run reached Done.
type FinishReason string

const (
	FinishCompleted FinishReason = "completed"
	FinishStepLimit FinishReason = "step-limit"
	FinishCancelled FinishReason = "cancelled"
	FinishError     FinishReason = "error"
)

type EventType string

const (
	EventTextDelta      EventType = "text-delta"
	EventToolInvocation EventType = "tool-invocation"
	EventToolResult     EventType = "tool-result"
	EventFinish         EventType = "finish"
)

// Event is one element of the output stream. A run always ends with exactly one
// EventFinish, which marks the end of the turn.
type Event struct {
	Type       EventType                    `json:"type"`
	Step       int                          `json:"step,omitempty"`
	Text       string                       `json:"text,omitempty"`
	Invocation *conversation.ToolInvocation `json:"invocation,omitempty"`
	Result     *conversation.ToolResult     `json:"result,omitempty"`
	Finish     FinishReason                 `json:"finish_reason,omitempty"`
}
