// Package backend implements the local agent backend served by
// `agentchat serve`: a DuckDB-backed session store, the agent that
// answers queries and the HTTP API the chat client talks to.
package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/strrl/agentchat/pkg/models"
)

// ErrNotFound is returned for operations on an unknown session
var ErrNotFound = errors.New("session not found")

// SessionRecord is a session as the backend stores and reports it
type SessionRecord struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	CreatedAt string           `json:"created_at"`
	Messages  []models.Message `json:"messages"`
}

// Store persists sessions and their ordered messages
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore wraps a database opened with db.Open
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// CreateSession inserts a new, empty session with a fresh id
func (s *Store) CreateSession(ctx context.Context, name string) (SessionRecord, error) {
	created := s.now().UTC()
	rec := SessionRecord{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: models.FormatTimestamp(created),
		Messages:  []models.Message{},
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, created_at) VALUES (?, ?, ?)`,
		rec.ID, rec.Name, created)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to create session: %w", err)
	}
	return rec, nil
}

// ListSessions returns every session, newest first, with its messages
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at
		FROM sessions
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	records := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var created time.Time
		if err := rows.Scan(&rec.ID, &rec.Name, &created); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		rec.CreatedAt = models.FormatTimestamp(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	rows.Close()

	// The pool holds a single connection, so messages are read only after
	// the session rows are closed.
	for i := range records {
		msgs, err := s.messages(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Messages = msgs
	}
	return records, nil
}

// GetSession returns a single session with its messages
func (s *Store) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var rec SessionRecord
	var created time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to get session: %w", err)
	}
	rec.CreatedAt = models.FormatTimestamp(created)

	if rec.Messages, err = s.messages(ctx, id); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// RenameSession changes a session's name
func (s *Store) RenameSession(ctx context.Context, id, name string) (SessionRecord, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to rename session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return SessionRecord{}, ErrNotFound
	}
	return s.GetSession(ctx, id)
}

// DeleteSession removes a session and all of its messages
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return tx.Commit()
}

// History returns a session's messages in order
func (s *Store) History(ctx context.Context, id string) ([]models.Message, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	return s.messages(ctx, id)
}

// AppendMessages adds messages to the end of a session's history and
// returns the full resulting history
func (s *Store) AppendMessages(ctx context.Context, id string, msgs ...models.Message) ([]models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?`, id,
	).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to read message sequence: %w", err)
	}

	for i, msg := range msgs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
			id, next+i, string(msg.Role), msg.Content, msg.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to append message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit messages: %w", err)
	}
	return s.messages(ctx, id)
}

func (s *Store) exists(ctx context.Context, id string) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&count); err != nil {
		return fmt.Errorf("failed to look up session: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) messages(ctx context.Context, id string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var msg models.Message
		var role string
		if err := rows.Scan(&role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
