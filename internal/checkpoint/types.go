package checkpoint

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a checkpoint row
type Status string

const (
	// StatusStreaming marks an in-flight response still being appended to
	StatusStreaming Status = "streaming"
	// StatusCompleted marks a response that finished normally
	StatusCompleted Status = "completed"
	// StatusFailed marks a response whose generation failed
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ToolCall is one tool invocation recorded as part of a partial response
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    string          `json:"result,omitempty"`
}

// Checkpoint is the durable snapshot of one AI response, keyed by session
// and message. A browser that reconnects mid-generation reads the latest
// active checkpoint to resume rendering where it left off.
type Checkpoint struct {
	SessionID       string     `json:"sessionId"`
	MessageID       string     `json:"messageId"`
	QuestionID      string     `json:"questionId,omitempty"`
	UserMessage     string     `json:"userMessage"`
	PartialResponse string     `json:"partialResponse"`
	ToolCalls       []ToolCall `json:"toolCalls,omitempty"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}
