package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"parley/internal/config"
	"parley/internal/writer"
)

// Store manages persistence backed by SQLite. All mutations are funneled
// through a single serialized Writer; reads run concurrently on a separate
// handle.
type Store struct {
	read   *sql.DB
	write  *sql.DB
	writer *writer.Writer
	path   string
}

// Open initializes or connects to the database and applies the schema.
func Open(cfg *config.Config, logger *zap.Logger) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	writeDB, err := openHandle(dbPath)
	if err != nil {
		return nil, err
	}
	// The write handle is pinned to one connection; the Writer is its only user.
	writeDB.SetMaxOpenConns(1)

	readDB, err := openHandle(dbPath)
	if err != nil {
		_ = writeDB.Close()
		return nil, err
	}

	store := &Store{read: readDB, write: writeDB, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = readDB.Close()
		_ = writeDB.Close()
		return nil, err
	}

	store.writer = writer.New(writeDB, logger)
	return store, nil
}

func openHandle(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return db, nil
}

// Close drains the writer and releases both database handles.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.writer != nil {
		s.writer.Close()
	}
	var errs []error
	if s.write != nil {
		if err := s.write.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.read != nil {
		if err := s.read.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Submit funnels an arbitrary mutation through the serialized writer. It is
// the only way any caller mutates the database.
func (s *Store) Submit(ctx context.Context, statement string, args ...any) (int64, error) {
	return s.writer.Submit(ctx, statement, args...)
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// CheckHealth verifies the database is reachable and structurally sound.
func (s *Store) CheckHealth(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.read.PingContext(connCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	var integrity string
	row := s.read.QueryRowContext(connCtx, "PRAGMA integrity_check")
	if err := row.Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check reported %q", integrity)
	}
	return nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
