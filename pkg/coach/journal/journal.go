// Package journal keeps the on-device record of coach sessions in SQLite so
// the user's history survives restarts and works offline.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded session.
type Entry struct {
	ID             int64      `json:"id"`
	Kind           string     `json:"agent"`
	ConversationID string     `json:"conversation_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
}

type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the journal database. An empty path or ":memory:"
// keeps the journal in memory, which the tests rely on.
func Open(path string) (*Journal, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		end_reason TEXT
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sessions index: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// SessionStarted inserts a new session row and returns its id.
func (j *Journal) SessionStarted(ctx context.Context, kind, conversationID string, at time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO sessions (agent, conversation_id, started_at) VALUES (?, ?, ?)`,
		kind, conversationID, at.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session id: %w", err)
	}
	return id, nil
}

// SessionEnded marks a session row as finished. Ending an unknown or already
// ended session is an error so double writes surface in logs.
func (j *Journal) SessionEnded(ctx context.Context, id int64, at time.Time, reason string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL`,
		at.UnixMilli(), reason, id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("session %d not found or already ended", id)
	}
	return nil
}

// Recent returns the most recent sessions, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, agent, conversation_id, started_at, ended_at, end_reason
		 FROM sessions ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			startedAt int64
			endedAt   sql.NullInt64
			reason    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.ConversationID, &startedAt, &endedAt, &reason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedAt)
		if endedAt.Valid {
			t := time.UnixMilli(endedAt.Int64)
			e.EndedAt = &t
		}
		e.EndReason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
