package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600

	defaultBusyTimeout = 5 * time.Second
	pingTimeout        = 5 * time.Second
)

// synchronousLevels are the accepted PRAGMA synchronous values.
var synchronousLevels = map[string]bool{"OFF": true, "NORMAL": true, "FULL": true, "EXTRA": true}

// DB is a single-writer SQLite handle with migration support.
type DB struct {
	*sql.DB
	path string
}

// Config describes one SQLite file.
type Config struct {
	// Path is the database file. Missing parent directories are created.
	Path string

	// WALMode enables write-ahead logging.
	WALMode bool

	// BusyTimeout is the lock wait. Zero means five seconds.
	BusyTimeout time.Duration

	// Synchronous is OFF, NORMAL, FULL or EXTRA. Empty means NORMAL under
	// WAL and the SQLite default otherwise.
	Synchronous string
}

// dsn builds the go-sqlite3 connection string for cfg.
// See https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg Config) (string, error) {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_foreign_keys", "on")

	sync := strings.ToUpper(cfg.Synchronous)
	if cfg.WALMode {
		params.Set("_journal_mode", "WAL")
		if sync == "" {
			sync = "NORMAL"
		}
	}
	if sync != "" {
		if !synchronousLevels[sync] {
			return "", fmt.Errorf("invalid synchronous level %q", cfg.Synchronous)
		}
		params.Set("_synchronous", sync)
	}

	return "file:" + cfg.Path + "?" + params.Encode(), nil
}

// Open creates or opens the database at cfg.Path and verifies it with a
// ping bounded by ctx.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	connStr, err := dsn(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite only supports one writer.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	//nolint:errcheck // the file appears on first write with some drivers
	os.Chmod(cfg.Path, filePermissions)

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database %s: %w", filepath.Base(db.path), err)
	}
	return nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// ExecContext is sql.DB.ExecContext with the error wrapped.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return result, nil
}
