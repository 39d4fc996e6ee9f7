// Package trace records the step-by-step trajectory of one run into SQLite.
//
// Information Hiding:
// - SQLite connection management hidden behind the Recorder
// - Schema details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling
//
// The default database is in-memory and dies with the run; writing to a file
// is an explicit debug opt-in. The engine only ever writes - nothing is read
// back between invocations.

package trace

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Recorder writes one row per executed directive for a single run.
type Recorder struct {
	db    *sql.DB
	runID string
}

// OpenInMemory creates a recorder backed by an in-memory database.
func OpenInMemory() (*Recorder, error) {
	return open(":memory:")
}

// Open creates a recorder backed by a database file at path.
func Open(path string) (*Recorder, error) {
	return open(path)
}

func open(dsn string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace database: %w", err)
	}
	// An in-memory sqlite database exists per connection; a single
	// connection keeps every write in the same database.
	db.SetMaxOpenConns(1)

	r := &Recorder{db: db, runID: uuid.NewString()}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize trace schema: %w", err)
	}
	return r, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// RunID identifies this run's rows.
func (r *Recorder) RunID() string {
	return r.runID
}

func (r *Recorder) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			depth INTEGER NOT NULL,
			iteration INTEGER NOT NULL,
			action TEXT NOT NULL,
			observation_bytes INTEGER NOT NULL,
			recorded_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_steps_run
		ON steps(run_id, iteration);
	`
	_, err := r.db.Exec(schema)
	return err
}

// RecordStep appends one trajectory row.
func (r *Recorder) RecordStep(sessionID string, depth, iteration int, action string, observationBytes int) error {
	_, err := r.db.Exec(
		`INSERT INTO steps (run_id, session_id, depth, iteration, action, observation_bytes, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.runID, sessionID, depth, iteration, action, observationBytes, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}

// StepCount returns the number of rows recorded for this run.
func (r *Recorder) StepCount() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM steps WHERE run_id = ?`, r.runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count steps: %w", err)
	}
	return n, nil
}

// MaxDepth returns the deepest session level recorded for this run, zero
// when no rows exist.
func (r *Recorder) MaxDepth() (int, error) {
	var d sql.NullInt64
	err := r.db.QueryRow(`SELECT MAX(depth) FROM steps WHERE run_id = ?`, r.runID).Scan(&d)
	if err != nil {
		return 0, fmt.Errorf("failed to query max depth: %w", err)
	}
	if !d.Valid {
		return 0, nil
	}
	return int(d.Int64), nil
}
