// Package ledger records partition outcomes of every harvest run in SQLite,
// so progress across resumed runs can be audited without parsing logs.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("ledger closed")

// Outcome is one partition result within a run.
type Outcome struct {
	RunID       string
	PartitionID string
	Label       string
	Status      string
	Rows        int
	FinalOffset int
	PageSize    int
	Failures    int
	RecordedAt  time.Time
}

// Ledger is a SQLite-backed outcome log.
type Ledger struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the ledger at path. Use ":memory:" for tests.
func Open(path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Workers record concurrently; one connection serialises writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS partition_outcomes (
			run_id TEXT NOT NULL,
			partition_id TEXT NOT NULL,
			label TEXT NOT NULL,
			status TEXT NOT NULL,
			rows INTEGER NOT NULL,
			final_offset INTEGER NOT NULL,
			page_size INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, partition_id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_partition_outcomes_partition
		ON partition_outcomes(partition_id, recorded_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Record stores an outcome, replacing any earlier one for the same run and
// partition. A zero RecordedAt is set to now.
func (l *Ledger) Record(ctx context.Context, o Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO partition_outcomes
			(run_id, partition_id, label, status, rows, final_offset, page_size, failures, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, partition_id) DO UPDATE SET
			label = excluded.label,
			status = excluded.status,
			rows = excluded.rows,
			final_offset = excluded.final_offset,
			page_size = excluded.page_size,
			failures = excluded.failures,
			recorded_at = excluded.recorded_at
	`, o.RunID, o.PartitionID, o.Label, o.Status, o.Rows, o.FinalOffset, o.PageSize, o.Failures,
		o.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// RunOutcomes returns the outcomes of one run in recording order.
func (l *Ledger) RunOutcomes(ctx context.Context, runID string) ([]Outcome, error) {
	return l.query(ctx, `
		SELECT run_id, partition_id, label, status, rows, final_offset, page_size, failures, recorded_at
		FROM partition_outcomes
		WHERE run_id = ?
		ORDER BY recorded_at, partition_id
	`, runID)
}

// Latest returns the most recent outcome of every partition, by partition ID.
func (l *Ledger) Latest(ctx context.Context) ([]Outcome, error) {
	return l.query(ctx, `
		SELECT o.run_id, o.partition_id, o.label, o.status, o.rows, o.final_offset, o.page_size, o.failures, o.recorded_at
		FROM partition_outcomes o
		WHERE o.recorded_at = (
			SELECT MAX(i.recorded_at) FROM partition_outcomes i WHERE i.partition_id = o.partition_id
		)
		ORDER BY o.partition_id
	`)
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]Outcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return nil, ErrClosed
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		var recorded string
		if err := rows.Scan(&o.RunID, &o.PartitionID, &o.Label, &o.Status, &o.Rows,
			&o.FinalOffset, &o.PageSize, &o.Failures, &recorded); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, recorded); err == nil {
			o.RecordedAt = t
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.db.Close()
}
