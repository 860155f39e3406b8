package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hirelane/livewire/internal/logger"
	"github.com/hirelane/livewire/internal/shell"
	"github.com/hirelane/livewire/internal/stream"
)

// handleTerminalStream attaches the caller as the session's exclusive shell
// reader and relays output over SSE. A newer connection for the same session
// preempts this one.
func (s *Server) handleTerminalStream(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionAccess(w, r, false)
	if !ok {
		return
	}

	if !s.cfg.TerminalEnabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":    "Terminal streaming is disabled",
			"fallback": true,
		})
		return
	}

	lease, err := s.shells.PrepareForReading(r.Context(), sessionID)
	if err != nil {
		s.writeShellError(w, err)
		return
	}
	defer lease.Release()

	sess, ok := s.shells.Session(sessionID)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Shell session unavailable"})
		return
	}

	src := stream.NewShellSource(sess.Shell, s.cfg.PollInterval(), s.cfg.Stream.PollChunkBytes)
	s.terminalRelay.Stream(lease.Context(), w, r, src)
}

// terminalInputRequest is the body of a terminal input POST
type terminalInputRequest struct {
	Data string `json:"data"`
}

// handleTerminalInput forwards keystrokes to the session's shell stdin,
// transparently recreating the session if this worker lost it.
func (s *Server) handleTerminalInput(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionAccess(w, r, true)
	if !ok {
		return
	}

	var req terminalInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}
	if req.Data == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "data is required"})
		return
	}

	recreated, err := s.shells.Write(r.Context(), sessionID, []byte(req.Data))
	if err != nil {
		s.writeShellError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"sessionRecreated": recreated,
	})
}

// handleTerminalTeardown destroys the session's shell, if any
func (s *Server) handleTerminalTeardown(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionAccess(w, r, true)
	if !ok {
		return
	}

	s.shells.Teardown(sessionID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// writeShellError maps manager errors to HTTP responses. A missing workspace
// is permanent (410); a backend failure is retryable (502).
func (s *Server) writeShellError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shell.ErrWriteTargetMissing):
		writeJSON(w, http.StatusGone, map[string]any{
			"error":   "No workspace exists for this session",
			"success": false,
		})
	case errors.Is(err, shell.ErrSessionUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "Shell session unavailable",
			"success": false,
		})
	default:
		logger.Error("Unexpected shell error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Internal error",
			"success": false,
		})
	}
}
