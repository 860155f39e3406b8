package logger

// Context keys for request-scoped log fields
type contextKey string

const (
	ContextKeyRequestID   contextKey = "request_id"
	ContextKeySessionID   contextKey = "session_id"
	ContextKeyCandidateID contextKey = "candidate_id"
)
