// Package sqlite provides a SQLite-backed calendar storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyp0633/caldora/internal/sqlitemigrate"
	"github.com/cyp0633/caldora/server/storage"
	"github.com/cyp0633/caldora/server/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store persists calendars and events in SQLite.
type Store struct {
	sqlDB  *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite calendar store and applies embedded migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	s := &Store{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; Atomic holds the connection for its whole transaction
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ".", s.logger); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	s.sqlDB = sqlDB
	s.logger.Info("sqlite storage opened", "path", path)
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

var _ storage.Storage = (*Store)(nil)

// Atomic implements storage.Storage.
func (s *Store) Atomic(ctx context.Context, fn func(tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.NewTransactionError("begin transaction", err)
	}
	if err := fn(&txn{q: tx, store: s}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		s.logger.Debug("transaction rolled back", "error", err)
		return err
	}
	if err := tx.Commit(); err != nil {
		return storage.NewTransactionError("commit transaction", err)
	}
	return nil
}

func (s *Store) reader() *txn {
	return &txn{q: s.sqlDB, store: s}
}

func (s *Store) GetCalendar(ctx context.Context, id storage.CalendarID) (*storage.Calendar, error) {
	return s.reader().GetCalendar(ctx, id)
}

func (s *Store) GetCalendarByName(ctx context.Context, name string) (*storage.Calendar, error) {
	return s.reader().GetCalendarByName(ctx, name)
}

func (s *Store) FindCalendars(ctx context.Context, q storage.CalendarQuery) ([]*storage.Calendar, error) {
	return s.reader().FindCalendars(ctx, q)
}

func (s *Store) GetEvent(ctx context.Context, id storage.EventID) (*storage.Event, error) {
	return s.reader().GetEvent(ctx, id)
}

func (s *Store) FindEvents(ctx context.Context, q storage.EventQuery) ([]*storage.Event, error) {
	return s.reader().FindEvents(ctx, q)
}

func (s *Store) LookupCategory(ctx context.Context, name string) (storage.Category, error) {
	return s.reader().LookupCategory(ctx, name)
}

func (s *Store) LookupLocation(ctx context.Context, name string) (storage.Location, error) {
	return s.reader().LookupLocation(ctx, name)
}

func (s *Store) CreateCalendar(ctx context.Context, acc storage.Access, cal *storage.Calendar) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.CreateCalendar(ctx, acc, cal) })
}

func (s *Store) UpdateCalendar(ctx context.Context, acc storage.Access, cal *storage.Calendar) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.UpdateCalendar(ctx, acc, cal) })
}

func (s *Store) DeleteCalendar(ctx context.Context, acc storage.Access, id storage.CalendarID) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.DeleteCalendar(ctx, acc, id) })
}

func (s *Store) CreateEvent(ctx context.Context, acc storage.Access, ev *storage.Event) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.CreateEvent(ctx, acc, ev) })
}

func (s *Store) UpdateEvent(ctx context.Context, acc storage.Access, ev *storage.Event) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.UpdateEvent(ctx, acc, ev) })
}

func (s *Store) DeleteEvent(ctx context.Context, acc storage.Access, id storage.EventID) error {
	return s.Atomic(ctx, func(tx storage.Tx) error { return tx.DeleteEvent(ctx, acc, id) })
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
