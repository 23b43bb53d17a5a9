package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"hearth/internal/domain"
)

// SQLiteStore implements domain.ConversationStore on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and runs the schema
// migration. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}

	// WAL mode for concurrent reads; a busy timeout instead of immediate
	// SQLITE_BUSY when the writer goroutine holds the lock.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	// modernc.org/sqlite serializes writes anyway; one connection avoids
	// lock contention between pool members.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate conversation db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			thinking        TEXT NOT NULL DEFAULT '',
			tool_calls      TEXT NOT NULL DEFAULT '[]',
			tool_call_id    TEXT NOT NULL DEFAULT '',
			cancelled       INTEGER NOT NULL DEFAULT 0,
			model           TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, seq);
	`)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create implements domain.ConversationStore.
func (s *SQLiteStore) Create(ctx context.Context, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:        domain.NewID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		conv.ID, conv.Title, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, domain.WrapOp("store.create", err)
	}
	return conv, nil
}

// Load implements domain.ConversationStore. The transcript comes back in
// append order.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?", id)

	var conv domain.Conversation
	var createdAt, updatedAt string
	if err := row.Scan(&conv.ID, &conv.Title, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapOpDetail("store.load", domain.ErrNotFound, id)
		}
		return nil, domain.WrapOp("store.load", err)
	}
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, thinking, tool_calls, tool_call_id, cancelled, model, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, domain.WrapOp("store.load", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows, id)
		if err != nil {
			return nil, domain.WrapOp("store.load", err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapOp("store.load", err)
	}
	return &conv, nil
}

// Append implements domain.ConversationStore. The message sequence number is
// assigned inside a transaction so concurrent appends cannot collide.
func (s *SQLiteStore) Append(ctx context.Context, convID string, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = domain.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return domain.WrapOp("store.append", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WrapOp("store.append", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM conversations WHERE id = ?", convID).Scan(&exists); err != nil {
		return domain.WrapOp("store.append", err)
	}
	if exists == 0 {
		return domain.WrapOpDetail("store.append", domain.ErrNotFound, convID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages
			(id, conversation_id, seq, role, content, thinking, tool_calls, tool_call_id, cancelled, model, created_at)
		VALUES
			(?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?),
			 ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, convID, convID,
		string(msg.Role), msg.Content, msg.Thinking, string(toolCalls), msg.ToolCallID,
		boolToInt(msg.Cancelled), msg.Model, msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return domain.WrapOp("store.append", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		msg.CreatedAt.Format(time.RFC3339Nano), convID)
	if err != nil {
		return domain.WrapOp("store.append", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.WrapOp("store.append", err)
	}
	return nil
}

// List implements domain.ConversationStore. Most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.updated_at, COUNT(m.id)
		FROM conversations c
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, domain.WrapOp("store.list", err)
	}
	defer rows.Close()

	var out []domain.ConversationSummary
	for rows.Next() {
		var sum domain.ConversationSummary
		var updatedAt string
		if err := rows.Scan(&sum.ID, &sum.Title, &updatedAt, &sum.MessageCount); err != nil {
			return nil, domain.WrapOp("store.list", err)
		}
		sum.UpdatedAt = parseTime(updatedAt)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func scanMessage(rows *sql.Rows, convID string) (domain.Message, error) {
	var msg domain.Message
	var toolCalls, createdAt string
	var cancelled int

	err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Thinking,
		&toolCalls, &msg.ToolCallID, &cancelled, &msg.Model, &createdAt)
	if err != nil {
		return msg, err
	}

	msg.ConversationID = convID
	msg.Cancelled = cancelled != 0
	msg.CreatedAt = parseTime(createdAt)
	if toolCalls != "" && toolCalls != "[]" {
		if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
			return msg, fmt.Errorf("decode tool calls for message %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface check.
var _ domain.ConversationStore = (*SQLiteStore)(nil)
