package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/hirelane/livewire/internal/llm"
)

// ScriptedStream replays a fixed chunk sequence as an llm.Stream
type ScriptedStream struct {
	ch chan llm.Chunk

	mu  sync.Mutex
	err error
}

// Chunks implements llm.Stream
func (s *ScriptedStream) Chunks() <-chan llm.Chunk {
	return s.ch
}

// Err implements llm.Stream
func (s *ScriptedStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// ScriptedProvider is an llm.Provider that replays canned chunks. ChunkDelay
// spaces them out so tests can interrupt mid-stream.
type ScriptedProvider struct {
	Chunks     []llm.Chunk
	FinalErr   error
	StreamErr  error
	ChunkDelay time.Duration
}

// Stream implements llm.Provider
func (p *ScriptedProvider) Stream(ctx context.Context, _ llm.Request) (llm.Stream, error) {
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}

	st := &ScriptedStream{ch: make(chan llm.Chunk)}
	go func() {
		defer close(st.ch)
		for _, chunk := range p.Chunks {
			if p.ChunkDelay > 0 {
				select {
				case <-time.After(p.ChunkDelay):
				case <-ctx.Done():
					st.mu.Lock()
					st.err = ctx.Err()
					st.mu.Unlock()
					return
				}
			}
			select {
			case st.ch <- chunk:
			case <-ctx.Done():
				st.mu.Lock()
				st.err = ctx.Err()
				st.mu.Unlock()
				return
			}
		}
		st.mu.Lock()
		st.err = p.FinalErr
		st.mu.Unlock()
	}()
	return st, nil
}
