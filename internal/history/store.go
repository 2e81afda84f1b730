// Package history manages the per-user conversation log: durable
// role/content rows in SQLite, plus the pure sliding-window function
// that bounds how much history reaches the model.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Row is one persisted conversation message.
type Row struct {
	ID        int64
	UserID    int64
	Role      string // user, assistant, system
	Content   string
	CreatedAt time.Time
}

// Store persists conversation rows in SQLite, append-only per user.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a history store, running migrations on first use.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
	`)
	return err
}

// Append adds one message row to the user's log.
func (s *Store) Append(ctx context.Context, userID int64, role, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, role, content, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	s.logger.Debug("saved message", "user_id", userID, "role", role)
	return nil
}

// Recent returns the user's messages in chronological order. A
// positive limit returns only the most recent limit rows (still oldest
// first); limit <= 0 returns everything.
func (s *Store) Recent(ctx context.Context, userID int64, limit int) ([]Row, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, role, content, created_at FROM (
				SELECT id, user_id, role, content, created_at
				FROM conversations
				WHERE user_id = ?
				ORDER BY id DESC
				LIMIT ?
			) ORDER BY id ASC
		`, userID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, user_id, role, content, created_at
			FROM conversations
			WHERE user_id = ?
			ORDER BY id ASC
		`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var r Row
		var createdAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Role, &r.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		result = append(result, r)
	}
	return result, rows.Err()
}
