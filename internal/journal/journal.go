// Package journal keeps a local append-only trace of reconciliation
// outcomes. It exists for operators chasing duplicate event delivery;
// the remote table stays the only source of truth and journal writes
// are best-effort.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS reconciliations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	day_start TEXT NOT NULL,
	outcome TEXT NOT NULL,
	record_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
)`

// Entry is one journaled reconciliation.
type Entry struct {
	ID        string
	UserID    string
	Action    string
	DayStart  time.Time
	Outcome   string // "created" or "updated"
	RecordID  string
	CreatedAt time.Time
}

// Store is a SQLite-backed reconciliation journal.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the journal database at path. ":memory:"
// opens an in-memory journal.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes one entry. A missing ID or CreatedAt is filled in.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO reconciliations (id, user_id, action, day_start, outcome, record_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.UserID,
		e.Action,
		e.DayStart.UTC().Format(time.RFC3339),
		e.Outcome,
		e.RecordID,
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	query := `SELECT id, user_id, action, day_start, outcome, record_id, created_at
		FROM reconciliations ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var dayStart, createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &dayStart, &e.Outcome, &e.RecordID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		if e.DayStart, err = time.Parse(time.RFC3339, dayStart); err != nil {
			return nil, fmt.Errorf("parsing day_start: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
