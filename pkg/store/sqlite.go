package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema for the usage ledger.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// Enable WAL mode (Write-Ahead Logging)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Serialize concurrent writers instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the ledger table if it doesn't exist. It is safe to
// run repeatedly: the bootstrap utility may have created the table
// already, and the governor must never assume it owns the schema.
func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS api_usage (
		record_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		ts DATETIME NOT NULL,
		outcome TEXT NOT NULL,
		auth_source TEXT
	);

	-- Window counts are range scans on (provider, ts)
	CREATE INDEX IF NOT EXISTS idx_api_usage_provider_ts ON api_usage(provider, ts);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create api_usage table: %w", err)
	}

	return nil
}

// Tables lists the user tables present in the database. The daemon logs
// this at startup so the operator can verify bootstrap ran.
func (s *Store) Tables() ([]string, error) {
	rows, err := s.db.Query(
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
