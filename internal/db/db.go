package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/livinlefevreloca/collector/migrations"
	"github.com/livinlefevreloca/collector/tools/migrator"
)

// DB wraps sql.DB with additional context
type DB struct {
	*sql.DB
	driver string
}

// Tx wraps sql.Tx with additional context
type Tx struct {
	*sql.Tx
	db *DB
}

// Config holds database connection configuration
type Config struct {
	Driver          string        `toml:"driver"`
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `toml:"conn_max_idle_time"`
	MigrationsDir   string        `toml:"migrations_dir"`
	SkipMigrations  bool          `toml:"skip_migrations"`
}

// DefaultConfig returns a file-backed sqlite database under data/
func DefaultConfig() Config {
	return Config{
		Driver:       "sqlite3",
		DSN:          "data/collector.db",
		MaxOpenConns: 1,
	}
}

// Validate checks the database settings
func (c Config) Validate() error {
	if c.Driver != "sqlite3" {
		return fmt.Errorf("unsupported database driver %q (only sqlite3 is supported)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("database dsn must be specified")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("connection pool sizes cannot be negative")
	}
	return nil
}

// Standard errors
var (
	ErrNotFound   = errors.New("db: not found")
	ErrDuplicate  = errors.New("db: duplicate key")
	ErrForeignKey = errors.New("db: foreign key violation")
)

// Open creates a new database connection
func Open(driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if driver == "sqlite3" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &DB{
		DB:     db,
		driver: driver,
	}, nil
}

// OpenWithConfig creates a connection with custom configuration. For a file
// DSN the parent directory is created first.
func OpenWithConfig(config Config) (*DB, error) {
	if isFileDSN(config.DSN) {
		if dir := filepath.Dir(config.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := Open(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}

	// each connection to an in-memory database sees its own empty database
	if isMemoryDSN(config.DSN) {
		config.MaxOpenConns = 1
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func isFileDSN(dsn string) bool {
	return !isMemoryDSN(dsn) && !strings.HasPrefix(dsn, "file:")
}

// Migrate applies the schema. MigrationsDir overrides the embedded migrations.
func (db *DB) Migrate(ctx context.Context, config Config, logger *slog.Logger) error {
	if config.SkipMigrations {
		if logger != nil {
			logger.Warn("skipping database migrations")
		}
		return nil
	}

	var source fs.FS = migrations.FS
	if config.MigrationsDir != "" {
		source = os.DirFS(config.MigrationsDir)
	}

	if err := migrator.RunMigrations(ctx, db.DB, source, logger); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Driver returns the database driver name
func (db *DB) Driver() string {
	return db.driver
}

// Begin starts a new transaction
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &Tx{
		Tx: tx,
		db: db,
	}, nil
}

// WithTransaction executes a function within a transaction
// Automatically commits on success, rolls back on error
func (db *DB) WithTransaction(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Error classification functions

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsDuplicate checks if error is a duplicate key error
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKey checks if error is a foreign key error
func IsForeignKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrForeignKey) {
		return true
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
