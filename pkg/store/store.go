// Package store persists decision traces to a local SQLite database. It is
// an append-only audit log for reviewing routing behavior after the fact;
// the supervisor never reads from it and nothing depends on its durability.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zen-systems/taskflow/pkg/agent"
)

// Store wraps the audit database.
type Store struct {
	db *sql.DB
}

// Record is one persisted decision trace.
type Record struct {
	ID        int64          `json:"id"`
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id"`
	Query     string         `json:"query"`
	Path      agent.Path     `json:"path"`
	Decision  agent.Decision `json:"decision"`
	CreatedAt time.Time      `json:"created_at"`
}

// Open creates the parent directory if needed, opens the database in WAL
// mode, and runs the migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS decisions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			query      TEXT NOT NULL,
			path       TEXT NOT NULL,
			trace      TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id);
		CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists one decision trace.
func (s *Store) Append(ctx context.Context, sessionID, query string, dec *agent.Decision) error {
	trace, err := json.Marshal(dec)
	if err != nil {
		return fmt.Errorf("store: encode trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (request_id, session_id, query, path, trace, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		dec.RequestID, sessionID, query, string(dec.Path), string(trace),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: append decision: %w", err)
	}
	return nil
}

// List returns the most recent decision traces, newest first. A sessionID
// of "" lists across all sessions.
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, request_id, session_id, query, path, trace, created_at
		FROM decisions`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list decisions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			path      string
			trace     string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.SessionID, &rec.Query, &path, &trace, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		rec.Path = agent.Path(path)
		if err := json.Unmarshal([]byte(trace), &rec.Decision); err != nil {
			return nil, fmt.Errorf("store: decode trace: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
