package receiptdao

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO), registers as "sqlite".
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store owns kira.db end to end: receipts, the sync queue, integrity
// alerts, and per-provider cursors all share this single connection under
// the sole-writer pattern (SetMaxOpenConns(1)) so every write is
// serialized and crash-safe.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at dbPath, applies
// pending migrations, and returns a ready-to-use Store.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("receiptdao: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time, avoiding
	// SQLITE_BUSY under concurrent goroutines.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	logger.Info("receiptdao: store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the shared *sql.DB so sibling packages (syncqueue, auditor)
// can operate on their own tables within the same kira.db file and
// sole-writer connection, without each opening their own handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// runMigrations applies all pending schema migrations using goose's
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("receiptdao: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("receiptdao: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("receiptdao: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("receiptdao: applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}
