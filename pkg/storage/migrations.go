package storage

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a database schema migration
type Migration struct {
	SQL         string
	Description string
	Version     int
}

// migrations is the ordered registry of schema changes. Versions are
// never reused; append new entries at the end.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Mutation journal",
		SQL: `
			CREATE TABLE mutations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp INTEGER NOT NULL,
				version INTEGER NOT NULL,
				kind TEXT NOT NULL,
				name TEXT NOT NULL,
				record_type TEXT NOT NULL,
				records TEXT,
				source TEXT,
				applied BOOLEAN NOT NULL,
				error_message TEXT
			);
			CREATE INDEX idx_mutations_timestamp ON mutations(timestamp);
			CREATE INDEX idx_mutations_name ON mutations(name);
		`,
	},
	{
		Version:     2,
		Description: "Query log",
		SQL: `
			CREATE TABLE queries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp INTEGER NOT NULL,
				client_ip TEXT NOT NULL,
				domain TEXT NOT NULL,
				query_type TEXT NOT NULL,
				response_code INTEGER NOT NULL,
				source TEXT,
				response_time_ms REAL NOT NULL
			);
			CREATE INDEX idx_queries_timestamp ON queries(timestamp);
			CREATE INDEX idx_queries_domain_timestamp ON queries(domain, timestamp);
		`,
	},
}

// getMigrations returns all migrations sorted by version
func getMigrations() []Migration {
	result := make([]Migration, len(migrations))
	copy(result, migrations)

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result
}

// getCurrentVersion returns the highest applied schema version, 0 for a fresh database
func getCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to query schema version: %w", err)
	}
	return version, nil
}

// applyMigration applies a single migration within a transaction
func applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO schema_version (version, applied_at)
		VALUES (?, CURRENT_TIMESTAMP)
	`, migration.Version); err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// runMigrations brings the schema up to date. Each migration runs in its
// own transaction, so a failure leaves the last successful version in place.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := getCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range getMigrations() {
		if migration.Version <= current {
			continue
		}
		if err := applyMigration(db, migration); err != nil {
			return fmt.Errorf("failed to apply migration v%d (%s): %w",
				migration.Version, migration.Description, err)
		}
	}
	return nil
}
