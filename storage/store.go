package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jonwraymond/steadycore/observe"
	"github.com/jonwraymond/steadycore/resilience"
)

// Config configures a Store.
type Config struct {
	// Path is the database file. Created if it does not exist.
	Path string

	// BusyTimeout is how long SQLite itself waits on a lock before reporting busy.
	// Default: 5s
	BusyTimeout time.Duration

	// MaxOpenConns bounds the connection pool. WAL allows concurrent readers
	// next to the single writer.
	// Default: 4
	MaxOpenConns int

	// Retry configures the contention retry loop. Classify defaults to the
	// storage classifier.
	// Defaults: 5 attempts, 50ms base delay, 2s max delay.
	Retry resilience.RetryConfig

	Logger      observe.Logger
	Instruments *observe.Instruments
}

func (c Config) withDefaults() Config {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 4
	}
	if c.Retry.Name == "" {
		c.Retry.Name = "storage"
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = 50 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 2 * time.Second
	}
	if c.Retry.Classify == nil {
		c.Retry.Classify = Classify
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	if c.Retry.Logger == nil {
		c.Retry.Logger = c.Logger
	}
	if c.Retry.Instruments == nil {
		c.Retry.Instruments = c.Instruments
	}
	return c
}

// Store is the shared SQLite handle plus its contention policy.
//
// The *sql.DB is shared by all callers without an extra mutex; correctness
// comes from retry on contention and conditional writes.
type Store struct {
	db          *sql.DB
	retry       *resilience.Retry
	log         observe.Logger
	instruments *observe.Instruments
}

// Open opens or creates the database at cfg.Path.
//
// Every pooled connection is configured through the DSN with:
//   - BEGIN IMMEDIATE for transactions, so write intent is taken at begin
//   - WAL journal mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - the configured busy timeout
//   - foreign key enforcement
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, ErrMissingPath
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)

	s := &Store{
		db:          db,
		retry:       resilience.NewRetry(cfg.Retry),
		log:         cfg.Logger.WithOp(observe.OpMeta{Component: "storage"}),
		instruments: cfg.Instruments,
	}

	// The first connection switches the file to WAL; retry in case another
	// process holds it at that moment.
	if err := s.WithRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	return s, nil
}

func dsn(cfg Config) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", fmt.Sprint(cfg.BusyTimeout.Milliseconds()))
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_foreign_keys", "1")
	return "file:" + uriPathEscaper.Replace(cfg.Path) + "?" + q.Encode()
}

// uriPathEscaper escapes the characters SQLite URI parsing would otherwise
// read as escapes, query or fragment delimiters.
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Calls made on it bypass the contention retry.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return wrapDriverError(s.db.PingContext(ctx))
}

// WithRetry runs a single storage call, retrying busy/locked failures.
func (s *Store) WithRetry(ctx context.Context, op func(ctx context.Context, db *sql.DB) error) error {
	return s.retry.Execute(ctx, func(ctx context.Context) error {
		return wrapDriverError(op(ctx, s.db))
	})
}

// Exec runs one statement outside an explicit transaction, with retry.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	var res Result
	err := s.WithRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		var err error
		res, err = run(ctx, db, query, args...)
		return err
	})
	return res, err
}

// Get runs a single-row query with retry and scans it into dest.
// found is false when the query returned no rows.
func (s *Store) Get(ctx context.Context, query string, args []any, dest ...any) (found bool, err error) {
	err = s.WithRetry(ctx, func(ctx context.Context, db *sql.DB) error {
		var err error
		found, err = scanRow(db.QueryRowContext(ctx, query, args...), dest)
		return err
	})
	return found, err
}

// Migrate applies the statements in migrations that the database has not
// seen yet, tracked through PRAGMA user_version. Each migration runs in its
// own transaction. Safe to call on every start.
func (s *Store) Migrate(ctx context.Context, migrations []string) error {
	var version int
	if _, err := s.Get(ctx, "PRAGMA user_version", nil, &version); err != nil {
		return fmt.Errorf("storage: read user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		stmt := migrations[v]
		next := v + 1
		err := s.RunInTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			if _, err := tx.Run(ctx, stmt); err != nil {
				return err
			}
			_, err := tx.Run(ctx, fmt.Sprintf("PRAGMA user_version = %d", next))
			return err
		})
		if err != nil {
			return fmt.Errorf("storage: migration %d: %w", next, err)
		}
		s.log.Info(ctx, "applied migration", observe.F("version", next))
	}
	return nil
}
