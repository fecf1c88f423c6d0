// Package db stores session history in SQLite: who joined, from where,
// when they left and why, plus long-tick alerts raised by the server.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Database is a single-connection SQLite handle. Writes are serialized.
type Database struct {
	logger zerolog.Logger

	mu   sync.Mutex
	db   *sql.DB
	path string
}

// dsn applies the pragmas on every connection the driver opens.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// NewDatabase opens or creates the database file at dbPath.
func NewDatabase(dbPath string) (*Database, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	d := &Database{
		logger: log.With().Str("component", "db").Str("path", dbPath).Logger(),
		db:     conn,
		path:   dbPath,
	}
	d.logger.Info().Msg("database opened")
	return d, nil
}

// Migrate brings the schema up to len(steps). Step i moves the schema from
// version i to i+1; the version lives in PRAGMA user_version.
func (d *Database) Migrate(steps []string) error {
	var version int
	if err := d.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > len(steps) {
		return fmt.Errorf("schema version %d is newer than this build (%d)", version, len(steps))
	}

	for v := version; v < len(steps); v++ {
		err := d.Transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(steps[v]); err != nil {
				return err
			}
			_, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration to version %d failed: %w", v+1, err)
		}
		d.logger.Info().Int("version", v+1).Msg("schema migrated")
	}
	return nil
}

// Version returns the current schema version.
func (d *Database) Version() (int, error) {
	var version int
	err := d.db.QueryRow("PRAGMA user_version").Scan(&version)
	return version, err
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Exec runs a write statement.
func (d *Database) Exec(query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.Exec(query, args...)
}

// Query runs a read statement.
func (d *Database) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.Query(query, args...)
}

// Transaction runs fn in a transaction, rolling back when fn fails.
func (d *Database) Transaction(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
