package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/riftlabs/statekit/machine/emit"
)

// SQLiteOpener is a SQLite-backed Opener[S], for single-process deployments
// that need state to survive a restart without running a separate database
// server.
//
// Each run's state lives as one row in the machine_runs table, updated
// in-place under a real SQL transaction per Frame; the transaction itself
// is the atomic frame the core contract requires.
type SQLiteOpener[S any] struct {
	db *sql.DB
}

// NewSQLiteOpener opens (creating if necessary) a SQLite database at path
// and ensures its schema exists. path may be ":memory:" for a throwaway
// database useful in tests.
func NewSQLiteOpener[S any](path string) (*SQLiteOpener[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	o := &SQLiteOpener[S]{db: db}
	if err := o.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return o, nil
}

func (o *SQLiteOpener[S]) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS machine_runs (
			run_id TEXT PRIMARY KEY,
			step INTEGER NOT NULL,
			state TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS machine_events_outbox (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			event_data TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_outbox_run ON machine_events_outbox(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := o.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (o *SQLiteOpener[S]) Close() error {
	return o.db.Close()
}

// Open begins a transaction scoped to runID and reads its current state
// within that transaction. The opener's pool holds a single connection,
// so while this frame is open every other call on the opener (a second
// Open, Peek, PendingEvents) waits until it commits or rolls back.
func (o *SQLiteOpener[S]) Open(ctx context.Context, runID string) (Frame[S], error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}

	state, step, err := readRunState[S](ctx, tx, runID)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return &sqlFrame[S]{tx: tx, runID: runID, step: step, snapshot: state, open: true}, nil
}

// OpenReadOnly begins a transaction but refuses writes, for Restore.
func (o *SQLiteOpener[S]) OpenReadOnly(ctx context.Context, runID string) (Frame[S], error) {
	tx, err := o.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin readonly: %w", err)
	}

	state, step, err := readRunState[S](ctx, tx, runID)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return &sqlFrame[S]{tx: tx, runID: runID, step: step, snapshot: state, readOnly: true, open: true}, nil
}

func readRunState[S any](ctx context.Context, tx *sql.Tx, runID string) (S, int, error) {
	var zero S
	var raw string
	var step int

	row := tx.QueryRowContext(ctx, `SELECT step, state FROM machine_runs WHERE run_id = ?`, runID)
	switch err := row.Scan(&step, &raw); {
	case err == sql.ErrNoRows:
		return zero, 0, nil
	case err != nil:
		return zero, 0, fmt.Errorf("sqlite: read: %w", err)
	}

	var state S
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return zero, 0, fmt.Errorf("sqlite: unmarshal state: %w", err)
	}
	return state, step, nil
}

// Peek reads the latest committed state outside any frame.
func (o *SQLiteOpener[S]) Peek(ctx context.Context, runID string) (S, error) {
	var zero S
	var raw string

	row := o.db.QueryRowContext(ctx, `SELECT state FROM machine_runs WHERE run_id = ?`, runID)
	switch err := row.Scan(&raw); {
	case err == sql.ErrNoRows:
		return zero, ErrNotFound
	case err != nil:
		return zero, fmt.Errorf("sqlite: peek: %w", err)
	}

	var state S
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return zero, fmt.Errorf("sqlite: unmarshal state: %w", err)
	}
	return state, nil
}

// PendingEvents returns undelivered outbox rows, oldest first.
func (o *SQLiteOpener[S]) PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	query := `SELECT id, run_id, event_data, created_at FROM machine_events_outbox ORDER BY created_at ASC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: pending events: %w", err)
	}
	defer rows.Close()

	var result []OutboxEvent
	for rows.Next() {
		var oe OutboxEvent
		var raw string
		if err := rows.Scan(&oe.ID, &oe.RunID, &raw, &oe.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &oe.Event); err != nil {
			return nil, fmt.Errorf("sqlite: unmarshal event: %w", err)
		}
		result = append(result, oe)
	}
	return result, rows.Err()
}

// MarkEventsEmitted deletes the given outbox rows.
func (o *SQLiteOpener[S]) MarkEventsEmitted(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if _, err := o.db.ExecContext(ctx, `DELETE FROM machine_events_outbox WHERE id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: mark emitted: %w", err)
		}
	}
	return nil
}

// AppendEvent stages an outbox row within the same transaction as a
// Commit, giving crash-safe delivery of the event alongside the state it
// describes. Implements store.EventWriter.
func (f *sqlFrame[S]) AppendEvent(ctx context.Context, id string, ev emit.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sqlite: marshal event: %w", err)
	}
	_, err = f.tx.ExecContext(ctx,
		`INSERT INTO machine_events_outbox (id, run_id, event_data) VALUES (?, ?, ?)`,
		id, f.runID, raw)
	return err
}

type sqlFrame[S any] struct {
	tx       *sql.Tx
	runID    string
	step     int
	snapshot S
	staged   S
	hasStage bool
	readOnly bool
	open     bool
}

func (f *sqlFrame[S]) Read(_ context.Context) (S, error) {
	if !f.open {
		return f.snapshot, errClosed
	}
	return f.snapshot, nil
}

func (f *sqlFrame[S]) Write(_ context.Context, state S) error {
	if !f.open {
		return errClosed
	}
	if f.readOnly {
		return errReadOnly
	}
	f.staged = state
	f.hasStage = true
	return nil
}

func (f *sqlFrame[S]) Commit(ctx context.Context) error {
	if !f.open {
		return errClosed
	}
	if f.readOnly {
		return errReadOnly
	}

	if f.hasStage {
		// Re-read the persisted step within this transaction and compare it
		// against the step this frame was opened at. A mismatch means some
		// other commit for this run landed in between, and applying this
		// frame's write would silently clobber it.
		var currentStep int
		exists := true
		switch err := f.tx.QueryRowContext(ctx, `SELECT step FROM machine_runs WHERE run_id = ?`, f.runID).Scan(&currentStep); {
		case err == sql.ErrNoRows:
			exists = false
		case err != nil:
			_ = f.tx.Rollback()
			f.open = false
			return fmt.Errorf("sqlite: read for commit: %w", err)
		}
		if exists && currentStep != f.step {
			_ = f.tx.Rollback()
			f.open = false
			return ErrAlreadyCommitted
		}

		raw, err := json.Marshal(f.staged)
		if err != nil {
			_ = f.tx.Rollback()
			f.open = false
			return fmt.Errorf("sqlite: marshal state: %w", err)
		}

		if exists {
			_, err = f.tx.ExecContext(ctx, `UPDATE machine_runs SET step = ?, state = ? WHERE run_id = ?`, f.step+1, raw, f.runID)
		} else {
			_, err = f.tx.ExecContext(ctx, `INSERT INTO machine_runs (run_id, step, state) VALUES (?, ?, ?)`, f.runID, f.step+1, raw)
		}
		if err != nil {
			_ = f.tx.Rollback()
			f.open = false
			return fmt.Errorf("sqlite: write: %w", err)
		}
	}

	f.open = false
	if err := f.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (f *sqlFrame[S]) Rollback(_ context.Context) error {
	if !f.open {
		return errClosed
	}
	f.open = false
	return f.tx.Rollback()
}

func (f *sqlFrame[S]) Step() int {
	return f.step
}
