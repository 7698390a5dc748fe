// Package store persists finished pipeline runs (their output rows and
// report) in SQLite. Records and embeddings are never stored.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("store: run not found")

// Run is a persisted run.
type Run struct {
	ID         string   `json:"id"`
	Source     string   `json:"source,omitempty"`
	Records    int      `json:"records"`
	Clustered  int      `json:"clustered"`
	Noise      int      `json:"noise"`
	Degenerate bool     `json:"degenerate"`
	ElapsedMs  int64    `json:"elapsed_ms"`
	Messages   []string `json:"messages,omitempty"`
	CreatedAt  string   `json:"created_at"`
	Rows       []Row    `json:"rows,omitempty"`
}

// Row is one output row of a run.
type Row struct {
	GeneralTopic  string `json:"general_topic"`
	Subtopic      string `json:"subtopic"`
	Sentiment     string `json:"sentiment"`
	ResponseCount int    `json:"response_count"`
	Summary       string `json:"summary"`
}

// Store wraps the SQLite run history.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and applies
// the schema and pending migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SaveRun stores a run and its rows in one transaction. Saving an existing
// ID replaces it.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	messages, err := json.Marshal(run.Messages)
	if err != nil {
		return fmt.Errorf("encoding messages: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", run.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, source, records, clustered, noise, degenerate, elapsed_ms, messages)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, run.Source, run.Records, run.Clustered, run.Noise, run.Degenerate,
			run.ElapsedMs, string(messages)); err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO run_rows (run_id, position, general_topic, subtopic, sentiment, response_count, summary)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, r := range run.Rows {
			if _, err := stmt.ExecContext(ctx, run.ID, i, r.GeneralTopic, r.Subtopic,
				r.Sentiment, r.ResponseCount, r.Summary); err != nil {
				return fmt.Errorf("inserting row %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetRun returns a run with its rows in their original order.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var messages sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, records, clustered, noise, degenerate, elapsed_ms, messages, created_at
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Source, &run.Records, &run.Clustered, &run.Noise,
		&run.Degenerate, &run.ElapsedMs, &messages, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if messages.Valid && messages.String != "" {
		if err := json.Unmarshal([]byte(messages.String), &run.Messages); err != nil {
			return nil, fmt.Errorf("decoding messages: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT general_topic, subtopic, sentiment, response_count, summary
		FROM run_rows WHERE run_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.GeneralTopic, &r.Subtopic, &r.Sentiment, &r.ResponseCount, &r.Summary); err != nil {
			return nil, err
		}
		run.Rows = append(run.Rows, r)
	}
	return run, rows.Err()
}

// ListRuns returns runs newest first, without rows. limit <= 0 returns
// every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, records, clustered, noise, degenerate, elapsed_ms, created_at
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Source, &r.Records, &r.Clustered, &r.Noise,
			&r.Degenerate, &r.ElapsedMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its rows.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
