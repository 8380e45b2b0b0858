// Package store is the local SQLite database behind exhibitdesk. It holds
// pager preferences and the lock override audit log; exhibit records
// themselves stay in the exhibits API.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/HerbHall/exhibitdesk/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.Store = (*SQLiteStore)(nil)

// ErrMigrationOrder is returned when a module's migrations are not listed
// in strictly ascending, positive version order.
var ErrMigrationOrder = errors.New("migrations out of order")

// AppliedMigration is one row of the migration ledger.
type AppliedMigration struct {
	Module      string    `json:"module"`
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger logs applied migrations and checkpoints to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLiteStore) { s.logger = logger }
}

// SQLiteStore implements plugin.Store on modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	mu     sync.Mutex // one migration run at a time
}

// New opens (or creates) the database at path, creating its directory when
// needed, and prepares the migration ledger. ":memory:" opens a private
// in-memory database.
func New(path string, opts ...Option) (*SQLiteStore, error) {
	s := &SQLiteStore{path: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if !inMemory(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps writes serialized and ":memory:" shared.
	db.SetMaxOpenConns(1)
	s.db = db

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("open sqlite %q: %s: %w", path, pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			module      TEXT     NOT NULL,
			version     INTEGER  NOT NULL,
			description TEXT     NOT NULL,
			applied_at  DATETIME NOT NULL,
			PRIMARY KEY (module, version)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create migration ledger: %w", err)
	}
	return s, nil
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// DB returns the underlying *sql.DB for repositories.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

// Tx runs fn in a transaction, committing only when fn returns nil.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Migrate brings module up to its newest migration. Steps at or below the
// module's recorded version are skipped; each newer step runs in its own
// transaction together with its ledger row.
func (s *SQLiteStore) Migrate(ctx context.Context, module string, migrations []plugin.Migration) error {
	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			return fmt.Errorf("%w: %s v%d after v%d", ErrMigrationOrder, module, m.Version, prev)
		}
		prev = m.Version
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE module = ?`, module,
	).Scan(&current); err != nil {
		return fmt.Errorf("read %s schema version: %w", module, err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		start := time.Now()
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (module, version, description, applied_at) VALUES (?, ?, ?, ?)`,
				module, m.Version, m.Description, time.Now().UTC())
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate %s to v%d (%s): %w", module, m.Version, m.Description, err)
		}
		s.logger.Info("migration applied",
			zap.String("module", module),
			zap.Int("version", m.Version),
			zap.String("description", m.Description),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

// Applied lists the ledger, oldest first. An empty module lists every module.
func (s *SQLiteStore) Applied(ctx context.Context, module string) ([]AppliedMigration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module, version, description, applied_at FROM schema_migrations
		WHERE ? = '' OR module = ?
		ORDER BY module, version`, module, module)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	defer rows.Close()

	out := []AppliedMigration{}
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Module, &m.Version, &m.Description, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Checkpoint folds the write-ahead log back into the database file so the
// file can be copied on its own.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	var busy, logFrames, moved int
	if err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").
		Scan(&busy, &logFrames, &moved); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if busy != 0 {
		return fmt.Errorf("wal checkpoint: database busy")
	}
	s.logger.Debug("wal checkpoint", zap.Int("frames", logFrames), zap.Int("checkpointed", moved))
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
