package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrCheckpointNotFound indicates no row exists for the requested key
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// Store handles checkpoint persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new checkpoint store with SQLite backend
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "checkpoints.db")
	// Enable WAL mode and busy timeout for better concurrent access
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		session_id TEXT NOT NULL,
		message_id TEXT NOT NULL,
		question_id TEXT,
		user_message TEXT NOT NULL DEFAULT '',
		partial_response TEXT NOT NULL DEFAULT '',
		tool_calls TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'streaming',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, message_id)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_session_updated ON checkpoints(session_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON checkpoints(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes a checkpoint, replacing the row for (session, message) if
// one exists. Terminal rows are never overwritten: a late streaming update
// arriving after finalization is a silent no-op, which keeps finalization
// one-way under races.
func (s *Store) Upsert(cp *Checkpoint) error {
	toolCalls, err := json.Marshal(cp.ToolCalls)
	if err != nil {
		return fmt.Errorf("failed to encode tool calls: %w", err)
	}

	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO checkpoints (session_id, message_id, question_id, user_message,
		                         partial_response, tool_calls, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO UPDATE SET
			question_id = excluded.question_id,
			user_message = excluded.user_message,
			partial_response = excluded.partial_response,
			tool_calls = excluded.tool_calls,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE checkpoints.status = 'streaming'`,
		cp.SessionID, cp.MessageID, nullable(cp.QuestionID), cp.UserMessage,
		cp.PartialResponse, string(toolCalls), string(cp.Status), cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert checkpoint: %w", err)
	}
	return nil
}

// Get retrieves the checkpoint for a (session, message) pair
func (s *Store) Get(sessionID, messageID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT session_id, message_id, question_id, user_message,
		       partial_response, tool_calls, status, created_at, updated_at
		FROM checkpoints WHERE session_id = ? AND message_id = ?`,
		sessionID, messageID,
	)
	return scanCheckpoint(row)
}

// Latest returns the most recently updated checkpoint for a session
func (s *Store) Latest(sessionID string) (*Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT session_id, message_id, question_id, user_message,
		       partial_response, tool_calls, status, created_at, updated_at
		FROM checkpoints WHERE session_id = ?
		ORDER BY updated_at DESC, message_id DESC LIMIT 1`,
		sessionID,
	)
	return scanCheckpoint(row)
}

// DeleteBySession removes every checkpoint for a session and returns the
// number of rows removed
func (s *Store) DeleteBySession(sessionID string) (int64, error) {
	result, err := s.db.Exec("DELETE FROM checkpoints WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// DeleteFinalizedBefore removes terminal rows last touched before cutoff
func (s *Store) DeleteFinalizedBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM checkpoints WHERE status != 'streaming' AND updated_at < ?",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune finalized checkpoints: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

// DeleteAbandonedBefore removes streaming rows last touched before cutoff.
// These belong to generations that died without finalizing.
func (s *Store) DeleteAbandonedBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM checkpoints WHERE status = 'streaming' AND updated_at < ?",
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune abandoned checkpoints: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var questionID sql.NullString
	var toolCalls, status string

	err := row.Scan(
		&cp.SessionID, &cp.MessageID, &questionID, &cp.UserMessage,
		&cp.PartialResponse, &toolCalls, &status, &cp.CreatedAt, &cp.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint: %w", err)
	}

	if questionID.Valid {
		cp.QuestionID = questionID.String
	}
	cp.Status = Status(status)
	if err := json.Unmarshal([]byte(toolCalls), &cp.ToolCalls); err != nil {
		return nil, fmt.Errorf("failed to decode tool calls: %w", err)
	}
	return &cp, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
