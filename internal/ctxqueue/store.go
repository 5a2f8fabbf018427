// Package ctxqueue persists out-of-band context notes that could not be
// injected into a live agent session. Notes accumulate while the agent
// is cold or busy and are flushed into the next available session, so a
// restart never loses them.
package ctxqueue

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Note is one queued context entry.
type Note struct {
	ID       int64
	Source   string
	Text     string
	QueuedAt time.Time
}

// Store is a durable FIFO of context notes backed by SQLite. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates a context queue store at the given database path.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s, err := NewStoreWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStoreWithDB creates a context queue store on an existing database
// connection, running migrations on first use.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_context (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		source    TEXT NOT NULL,
		text      TEXT NOT NULL,
		queued_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add appends a context note to the queue.
func (s *Store) Add(source, text string) error {
	_, err := s.db.Exec(
		`INSERT INTO pending_context (source, text, queued_at) VALUES (?, ?, ?)`,
		source, text, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("queue context from %s: %w", source, err)
	}
	return nil
}

// Pending returns all queued notes, oldest first, without removing them.
func (s *Store) Pending() ([]Note, error) {
	rows, err := s.db.Query(
		`SELECT id, source, text, queued_at FROM pending_context ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending context: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var queuedAt string
		if err := rows.Scan(&n.ID, &n.Source, &n.Text, &queuedAt); err != nil {
			return nil, fmt.Errorf("scan pending context: %w", err)
		}
		n.QueuedAt, _ = time.Parse(time.RFC3339, queuedAt)
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Remove deletes a delivered note. No error is returned if the note is
// already gone.
func (s *Store) Remove(id int64) error {
	_, err := s.db.Exec(`DELETE FROM pending_context WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove context note %d: %w", id, err)
	}
	return nil
}

// Count returns the number of queued notes.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pending_context`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending context: %w", err)
	}
	return n, nil
}
