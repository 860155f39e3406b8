package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/hirelane/livewire/internal/logger"
	"github.com/hirelane/livewire/internal/metrics"
)

// Reconnect reasons sent to the client. The browser treats any reason as
// "drop this EventSource and open a new one"; the reason is for diagnostics.
const (
	ReasonNewConnection = "new_connection"
	ReasonStreamEnded   = "stream_ended"
	ReasonTransport     = "transport_error"
)

// ErrEndOfStream signals a source ended without a definitive result. The
// relay treats it as ambiguous and tells the client to reconnect rather
// than rendering an error.
var ErrEndOfStream = errors.New("stream ended")

// Event is one JSON object written into a single SSE data frame.
type Event map[string]any

// Source produces the events for one SSE connection. Next blocks until an
// event is available, the source ends, or ctx is cancelled. A source ending
// cleanly returns io.EOF; ErrEndOfStream marks an ambiguous end.
type Source interface {
	Next(ctx context.Context) (Event, error)
}

// Options tune one relay instance. A relay is shared across requests of the
// same stream kind.
type Options struct {
	// Kind labels metrics and logs: "terminal", "chat" or "evaluation"
	Kind string

	// KeepAlive is the interval between comment pings on an idle stream
	KeepAlive time.Duration

	// ColorErrors renders fatal errors as ANSI-red terminal output instead
	// of an error envelope. Set for terminal streams only.
	ColorErrors bool

	// PreemptionCause, when it matches the stream context's cancellation
	// cause, turns the disconnect into a silent reconnect signal.
	PreemptionCause error
}

// Relay pumps a Source into an SSE response, handling keep-alives,
// preemption handoff and error classification.
type Relay struct {
	opts Options
}

// NewRelay creates a relay for one stream kind
func NewRelay(opts Options) *Relay {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.Kind == "" {
		opts.Kind = "stream"
	}
	return &Relay{opts: opts}
}

// Stream upgrades the response to SSE and relays src until it ends, the
// client disconnects, or ctx is cancelled. ctx carries the reader lease for
// terminal streams; for other kinds it is the request context.
func (rl *Relay) Stream(ctx context.Context, w http.ResponseWriter, r *http.Request, src Source) {
	metrics.RecordStreamOpen(rl.opts.Kind)
	start := time.Now()
	outcome := "done"
	defer func() {
		metrics.RecordStreamClose(rl.opts.Kind, outcome, time.Since(start).Seconds())
		logger.Debug("%s stream closed (%s) after %s", rl.opts.Kind, outcome, time.Since(start).Round(time.Millisecond))
	}()

	// go-sse only sets Content-Type; proxies between here and the browser
	// need the rest or they buffer and kill idle streams.
	header := w.Header()
	header.Set("Cache-Control", "no-cache, no-transform")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		outcome = "upgrade_failed"
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if err := rl.sendEvent(sess, Event{"connected": true}); err != nil {
		outcome = "disconnect"
		return
	}

	// The source is pumped on its own goroutine so the relay loop can
	// select across events, pings and cancellation. After the loop returns
	// nothing is written to sess again; the pump may leak one blocked Next
	// call until the source's backing reader is closed by session teardown.
	events := make(chan Event)
	srcErr := make(chan error, 1)
	go func() {
		for {
			ev, err := src.Next(ctx)
			if err != nil {
				srcErr <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(rl.opts.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			outcome = rl.finishCancelled(ctx, r, sess)
			return

		case <-ticker.C:
			msg := &sse.Message{}
			msg.AppendComment("ping")
			if err := sess.Send(msg); err != nil {
				outcome = "disconnect"
				return
			}
			_ = sess.Flush()

		case err := <-srcErr:
			// A cancelled stream context can surface either here (the
			// source observed it first) or on ctx.Done; route both the
			// same way so preemption is never misread as a source error.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				outcome = rl.finishCancelled(ctx, r, sess)
				return
			}
			outcome = rl.finishSource(sess, err)
			return

		case ev := <-events:
			if err := rl.sendEvent(sess, ev); err != nil {
				outcome = "disconnect"
				return
			}
		}
	}
}

// finishCancelled handles stream-context cancellation: preemption becomes a
// silent reconnect, everything else is a plain client disconnect.
func (rl *Relay) finishCancelled(ctx context.Context, r *http.Request, sess *sse.Session) string {
	cause := context.Cause(ctx)
	if rl.opts.PreemptionCause != nil && errors.Is(cause, rl.opts.PreemptionCause) {
		// The request connection may still be alive; the old browser tab
		// gets told to back off so only the new connection reads output.
		if r.Context().Err() == nil {
			_ = rl.sendEvent(sess, Event{"reconnect": true, "reason": ReasonNewConnection})
		}
		return "preempted"
	}
	return "disconnect"
}

// finishSource classifies a source error and writes the closing frames
func (rl *Relay) finishSource(sess *sse.Session, err error) string {
	switch {
	case errors.Is(err, io.EOF):
		_ = rl.sendEvent(sess, Event{"done": true})
		return "done"

	case errors.Is(err, ErrEndOfStream):
		// Ambiguous end: the backend stream closed without a definitive
		// result, so let the client reconnect and find out.
		_ = rl.sendEvent(sess, Event{"reconnect": true, "reason": ReasonStreamEnded})
		return "ended"

	case IsRecoverable(err):
		logger.Info("Recoverable %s stream error, signalling reconnect: %v", rl.opts.Kind, err)
		_ = rl.sendEvent(sess, Event{"reconnect": true, "reason": ReasonTransport})
		return "recoverable"

	default:
		logger.Error("Fatal %s stream error: %v", rl.opts.Kind, err)
		if rl.opts.ColorErrors {
			_ = rl.sendEvent(sess, Event{"output": "\r\n\x1b[31m" + err.Error() + "\x1b[0m\r\n"})
		} else {
			_ = rl.sendEvent(sess, Event{"error": err.Error()})
		}
		_ = rl.sendEvent(sess, Event{"done": true})
		return "error"
	}
}

func (rl *Relay) sendEvent(sess *sse.Session, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sse.Message{}
	msg.AppendData(string(data))
	if err := sess.Send(msg); err != nil {
		return err
	}
	return sess.Flush()
}

// recoverableMarkers are transient transport failures the client can paper
// over by reconnecting without showing an error.
var recoverableMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"broken pipe",
	"socket hang up",
	"use of closed network connection",
}

// IsRecoverable reports whether an error looks like a transient transport
// failure rather than a terminal one.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range recoverableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
