package stream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hirelane/livewire/internal/sandbox"
)

// NewShellSource returns the output source for a live shell. Push-capable
// backends deliver chunks as they arrive; others fall back to bounded
// periodic reads. The choice is made here, once, not inside the relay loop.
func NewShellSource(sh *sandbox.Shell, pollInterval time.Duration, pollChunkBytes int) Source {
	if sh.SupportsPush {
		return &pushSource{sh: sh}
	}
	return &pollSource{sh: sh, interval: pollInterval, max: pollChunkBytes}
}

// pushSource drains the shell's resident output pump
type pushSource struct {
	sh *sandbox.Shell
}

func (s *pushSource) Next(ctx context.Context) (Event, error) {
	select {
	case chunk, ok := <-s.sh.Output():
		if !ok {
			err := s.sh.ReadErr()
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			// Stdout closing is ambiguous: the process may have exited or
			// the attach may have dropped. The client reconnects and the
			// write path recreates the session if needed.
			return nil, ErrEndOfStream
		}
		return Event{"output": string(chunk)}, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// pollSource issues bounded reads on a fixed interval for backends whose
// output cannot be iterated push-style
type pollSource struct {
	sh       *sandbox.Shell
	interval time.Duration
	max      int
}

func (s *pollSource) Next(ctx context.Context) (Event, error) {
	for {
		chunk, err := s.sh.PollRead(ctx, s.max)
		if len(chunk) > 0 {
			return Event{"output": string(chunk)}, nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrEndOfStream
			}
			return nil, err
		}

		select {
		case <-time.After(s.interval):
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
}

// ChanSource adapts a channel of pre-built events (chat tokens, evaluation
// progress) to the Source interface. The producer closes the channel to end
// the stream; fail, if set, is consulted at that point to distinguish a
// clean finish from a producer failure.
type ChanSource struct {
	ch   <-chan Event
	fail func() error
}

// NewChanSource wraps an event channel as a Source
func NewChanSource(ch <-chan Event, fail func() error) *ChanSource {
	return &ChanSource{ch: ch, fail: fail}
}

func (s *ChanSource) Next(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.ch:
		if !ok {
			if s.fail != nil {
				if err := s.fail(); err != nil {
					return nil, err
				}
			}
			return nil, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}
