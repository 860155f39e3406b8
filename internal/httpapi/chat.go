package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/hirelane/livewire/internal/checkpoint"
	"github.com/hirelane/livewire/internal/llm"
	"github.com/hirelane/livewire/internal/logger"
	"github.com/hirelane/livewire/internal/stream"
	"github.com/hirelane/livewire/internal/validation"
)

// handleChatStream starts one AI interviewer turn and relays its tokens over
// SSE. Progress is checkpointed per chunk so a dropped browser can resume
// via the checkpoint endpoint.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionAccess(w, r, true)
	if !ok {
		return
	}

	// EventSource can only GET, so the turn's inputs ride the query string
	query := r.URL.Query()
	message := query.Get("message")
	if message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message is required"})
		return
	}

	turn, err := s.runner.Run(r.Context(), llm.Request{
		SessionID:  sessionID,
		QuestionID: query.Get("questionId"),
		Message:    message,
	})
	if err != nil {
		logger.Error("Failed to start chat turn for session %s: %v", sessionID, err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "Failed to start response generation"})
		return
	}

	src := stream.NewChanSource(turn.Events(), turn.Err)
	s.chatRelay.Stream(r.Context(), w, r, src)
}

// handleCheckpointGet returns the session's resumable checkpoint, or null
// when there is nothing to resume
func (s *Server) handleCheckpointGet(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionAccess(w, r, false)
	if !ok {
		return
	}

	cp, err := s.recovery.GetActive(sessionID)
	if err != nil {
		logger.Error("Failed to read checkpoint for session %s: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to read checkpoint"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": cp})
}

// checkpointPostRequest is the body of a checkpoint POST
type checkpointPostRequest struct {
	MessageID       string                `json:"messageId"`
	QuestionID      string                `json:"questionId"`
	UserMessage     string                `json:"userMessage"`
	PartialResponse string                `json:"partialResponse"`
	ToolCalls       []checkpoint.ToolCall `json:"toolCalls"`
	Status          string                `json:"status"`
}

// handleCheckpointPost records externally driven response progress. The
// dashboard's own generation pipeline uses this when it streams outside this
// worker.
func (s *Server) handleCheckpointPost(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionAccess(w, r, true)
	if !ok {
		return
	}

	var req checkpointPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}
	if err := validation.ValidateMessageID(req.MessageID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	cp := &checkpoint.Checkpoint{
		SessionID:       sessionID,
		MessageID:       req.MessageID,
		QuestionID:      req.QuestionID,
		UserMessage:     req.UserMessage,
		PartialResponse: req.PartialResponse,
		ToolCalls:       req.ToolCalls,
	}

	var err error
	switch checkpoint.Status(req.Status) {
	case checkpoint.StatusCompleted, checkpoint.StatusFailed:
		err = s.recovery.Finalize(cp, checkpoint.Status(req.Status))
	case checkpoint.StatusStreaming, "":
		err = s.recovery.BeginOrUpdate(cp)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid status"})
		return
	}
	if err != nil {
		logger.Error("Failed to write checkpoint for session %s: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to write checkpoint"})
		return
	}

	// Echo the row as stored. A streaming update against an already-finalized
	// row is dropped, so the caller sees the finalized state, not its own input.
	stored, err := s.recovery.Checkpoint(sessionID, req.MessageID)
	if err != nil {
		logger.Error("Failed to read back checkpoint for session %s: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to read checkpoint"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"checkpoint": stored})
}

// handleCheckpointDelete clears every checkpoint for the session
func (s *Server) handleCheckpointDelete(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := s.sessionAccess(w, r, true)
	if !ok {
		return
	}

	n, err := s.recovery.ClearAll(sessionID)
	if err != nil {
		logger.Error("Failed to clear checkpoints for session %s: %v", sessionID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to clear checkpoints"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}
