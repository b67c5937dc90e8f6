package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonwraymond/steadycore/observe"
)

// TxFunc is a transaction body.
//
// A body may run more than once: when BEGIN, a statement or COMMIT hits
// contention, the whole transaction is rolled back and retried from scratch.
// Bodies must therefore have no effects outside tx, in particular no network
// calls and no sends on channels shared with other goroutines.
type TxFunc func(ctx context.Context, tx *Tx) error

// Result reports the effect of a write statement.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// execer is implemented by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx issues statements inside a running transaction.
type Tx struct {
	tx execer
}

// Run executes a write statement.
func (t *Tx) Run(ctx context.Context, query string, args ...any) (Result, error) {
	return run(ctx, t.tx, query, args...)
}

// Get runs a single-row query and scans it into dest.
// found is false when the query returned no rows.
func (t *Tx) Get(ctx context.Context, query string, args []any, dest ...any) (found bool, err error) {
	return scanRow(t.tx.QueryRowContext(ctx, query, args...), dest)
}

// All runs a query and calls scan once per row.
func (t *Tx) All(ctx context.Context, scan func(*sql.Rows) error, query string, args ...any) error {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return wrapDriverError(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return wrapDriverError(rows.Err())
}

func run(ctx context.Context, e execer, query string, args ...any) (Result, error) {
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, wrapDriverError(err)
	}
	var out Result
	if out.RowsAffected, err = res.RowsAffected(); err != nil {
		return Result{}, wrapDriverError(err)
	}
	if out.LastInsertID, err = res.LastInsertId(); err != nil {
		return Result{}, wrapDriverError(err)
	}
	return out, nil
}

func scanRow(row *sql.Row, dest []any) (bool, error) {
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, wrapDriverError(err)
	}
	return true, nil
}

// RunInTransaction runs body inside BEGIN IMMEDIATE ... COMMIT.
//
// An error or panic from body rolls the transaction back; the rollback is
// best-effort and its failure is logged, never returned in place of the body
// error. Panics are re-raised after rollback. A commit failure is returned as
// the operation's error. Contention anywhere in the sequence retries it from
// BEGIN, re-running body.
func (s *Store) RunInTransaction(ctx context.Context, body TxFunc) error {
	return s.retry.Execute(ctx, func(ctx context.Context) error {
		return s.runOnce(ctx, body)
	})
}

func (s *Store) runOnce(ctx context.Context, body TxFunc) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", wrapDriverError(err))
	}

	done := false
	defer func() {
		if done {
			return
		}
		if p := recover(); p != nil {
			s.rollback(ctx, sqlTx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	if err := body(ctx, &Tx{tx: sqlTx}); err != nil {
		done = true
		s.rollback(ctx, sqlTx, err)
		return err
	}

	done = true
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", wrapDriverError(err))
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, tx *sql.Tx, cause error) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.log.Error(ctx, "rollback failed",
			observe.F("error", err),
			observe.F("cause", cause),
		)
	}
}

// InTransaction runs body through s.RunInTransaction and returns its value.
// The value of a failed or retried attempt is discarded.
func InTransaction[T any](ctx context.Context, s *Store, body func(ctx context.Context, tx *Tx) (T, error)) (T, error) {
	var out T
	err := s.RunInTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		v, err := body(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
