package llm

import (
	"context"

	"github.com/hirelane/livewire/internal/checkpoint"
)

// Request describes one chat turn to generate a response for
type Request struct {
	SessionID  string
	QuestionID string
	Message    string
}

// Chunk is one streamed increment of a model response: either a text token
// or a completed tool call, never both.
type Chunk struct {
	Token    string
	ToolCall *checkpoint.ToolCall
}

// Stream is one in-flight generation. Chunks delivers increments until the
// channel closes; Err is valid after that and reports why generation ended
// early, if it did.
type Stream interface {
	Chunks() <-chan Chunk
	Err() error
}

// Provider generates AI interviewer responses. Implementations wrap the
// dashboard's model backend; tests use a scripted provider.
type Provider interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}
