package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// migration is one forward schema step. Versions are applied in order
// and recorded in PRAGMA user_version.
type migration struct {
	version     int
	description string
	statements  []string
}

var migrations = []migration{
	{
		version:     1,
		description: "system state, event descriptions and lpr triggers",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS system_state (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS event_descriptions (
				event_id TEXT PRIMARY KEY,
				camera_id TEXT NOT NULL,
				logger_server TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL,
				event_start INTEGER NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS lpr_triggers (
				id TEXT PRIMARY KEY,
				camera_id TEXT NOT NULL,
				license_plate TEXT NOT NULL DEFAULT '',
				make TEXT NOT NULL DEFAULT '',
				model TEXT NOT NULL DEFAULT '',
				color TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN DEFAULT 1,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
		},
	},
	{
		version:     2,
		description: "lookup indexes",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_event_descriptions_camera ON event_descriptions(camera_id, event_start)`,
			`CREATE INDEX IF NOT EXISTS idx_event_descriptions_start ON event_descriptions(event_start)`,
			`CREATE INDEX IF NOT EXISTS idx_lpr_triggers_camera ON lpr_triggers(camera_id)`,
		},
	},
}

// Database is the bridge SQLite file
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase opens dbPath, creating its directory, and migrates it to
// the latest schema version.
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d := &Database{db: db, dbPath: dbPath}
	if err := d.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// GetDB returns the underlying connection pool
func (d *Database) GetDB() *sql.DB {
	return d.db
}

func (d *Database) Path() string {
	return d.dbPath
}

// Version returns the applied schema version
func (d *Database) Version(ctx context.Context) (int, error) {
	var v int
	if err := d.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func (d *Database) migrate(ctx context.Context) error {
	current, err := d.Version(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := d.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
		}
	}
	return nil
}

func (d *Database) apply(ctx context.Context, m migration) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	// PRAGMA does not take bind parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return err
	}
	return tx.Commit()
}
