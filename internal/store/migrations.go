package store

import (
	"fmt"
	"strings"
	"time"
)

// migrate runs all pending migrations
func (s *Store) migrate() error {
	// Create migrations table if it doesn't exist
	createMigrationsTableSQL := `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get the current schema version
	var currentVersion int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	s.logger.Info("Current schema version", "version", currentVersion)

	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	// Define all migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE zuul_jobs (
					id TEXT PRIMARY KEY,
					job_name TEXT NOT NULL,
					repo TEXT NOT NULL,
					tenants TEXT NOT NULL DEFAULT '[]',
					description TEXT NOT NULL DEFAULT '',
					description_html TEXT NOT NULL DEFAULT '',
					parent TEXT,
					url TEXT NOT NULL DEFAULT '',
					private BOOLEAN NOT NULL DEFAULT FALSE,
					platforms TEXT NOT NULL DEFAULT '[]',
					reusable BOOLEAN NOT NULL DEFAULT FALSE,
					line_start INTEGER NOT NULL DEFAULT 0,
					line_end INTEGER NOT NULL DEFAULT 0,
					last_updated TEXT,
					scrape_time TEXT NOT NULL
				);

				CREATE INDEX idx_zuul_jobs_repo ON zuul_jobs(repo, scrape_time);

				CREATE TABLE ansible_roles (
					id TEXT PRIMARY KEY,
					role_name TEXT NOT NULL,
					repo TEXT NOT NULL,
					tenants TEXT NOT NULL DEFAULT '[]',
					description TEXT NOT NULL DEFAULT '',
					description_html TEXT NOT NULL DEFAULT '',
					changelog TEXT NOT NULL DEFAULT '',
					changelog_html TEXT NOT NULL DEFAULT '',
					url TEXT NOT NULL DEFAULT '',
					private BOOLEAN NOT NULL DEFAULT FALSE,
					platforms TEXT NOT NULL DEFAULT '[]',
					reusable BOOLEAN NOT NULL DEFAULT FALSE,
					last_updated TEXT,
					scrape_time TEXT NOT NULL
				);

				CREATE INDEX idx_ansible_roles_repo ON ansible_roles(repo, scrape_time);

				CREATE TABLE git_repos (
					id TEXT PRIMARY KEY,
					repo_name TEXT NOT NULL UNIQUE,
					provider TEXT NOT NULL,
					scrape_time TEXT NOT NULL
				);

				CREATE TABLE zuul_tenants (
					id TEXT PRIMARY KEY,
					tenant_name TEXT NOT NULL UNIQUE,
					scrape_time TEXT NOT NULL
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE scrape_runs (
					id {{serial}},
					start_time TEXT NOT NULL,
					end_time TEXT,
					delete_only BOOLEAN NOT NULL DEFAULT FALSE,
					repos INTEGER NOT NULL DEFAULT 0,
					repos_failed INTEGER NOT NULL DEFAULT 0,
					jobs_saved INTEGER NOT NULL DEFAULT 0,
					roles_saved INTEGER NOT NULL DEFAULT 0,
					jobs_deleted INTEGER NOT NULL DEFAULT 0,
					roles_deleted INTEGER NOT NULL DEFAULT 0,
					repos_deleted INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL DEFAULT 'running',
					error_message TEXT NOT NULL DEFAULT ''
				);
			`,
		},
	}

	// Run pending migrations
	for _, mig := range migrations {
		if mig.version > currentVersion {
			s.logger.Info("Running migration", "version", mig.version)

			sql := strings.ReplaceAll(mig.sql, "{{serial}}", serial)
			if err := s.runMigration(mig.version, sql); err != nil {
				return fmt.Errorf("failed to run migration %d: %w", mig.version, err)
			}

			s.logger.Info("Migration completed", "version", mig.version)
		}
	}

	return nil
}

// runMigration executes a migration and records it
func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Execute the migration SQL
	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record the migration
	insertSQL := s.rebind("INSERT INTO migrations (version, applied_at) VALUES (?, ?)")
	if _, err := tx.Exec(insertSQL, version, formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	return nil
}
