package database

import (
	"context"
	"fmt"
	"time"
)

// Migration is one versioned schema change.
type Migration struct {
	// Version orders migrations and keys the schema_migrations table.
	// Format: YYYYMMDD_NNN (e.g., 20260512_001)
	Version string

	// Name is the human-readable migration name.
	Name string

	// SQL is the script applied for this migration.
	SQL string
}

// MigrationRecord represents a row in the schema_migrations table.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// migrations is the ordered, additive-only schema history.
var migrations = []Migration{
	{
		Version: "20260512_001",
		Name:    "create_executions",
		SQL: `
CREATE TABLE IF NOT EXISTS executions (
    id           TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    name         TEXT NOT NULL,
    operation    TEXT NOT NULL,
    verdict      TEXT NOT NULL,
    reasons      TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    ticket_ref   TEXT NOT NULL DEFAULT '',
    requested_by TEXT NOT NULL DEFAULT '',
    devices_total    INTEGER NOT NULL DEFAULT 0,
    devices_passed   INTEGER NOT NULL DEFAULT 0,
    devices_warning  INTEGER NOT NULL DEFAULT 0,
    devices_critical INTEGER NOT NULL DEFAULT 0,
    started_at   TIMESTAMP NOT NULL,
    completed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_started_at ON executions(started_at);
CREATE INDEX IF NOT EXISTS idx_executions_name ON executions(name);
`,
	},
	{
		Version: "20260512_002",
		Name:    "create_execution_devices",
		SQL: `
CREATE TABLE IF NOT EXISTS execution_devices (
    execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
    step         TEXT NOT NULL,
    hostname     TEXT NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    attempts     INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (execution_id, step, hostname)
);

CREATE INDEX IF NOT EXISTS idx_execution_devices_hostname ON execution_devices(hostname);
`,
	},
}

// Migrate applies all pending migrations to the database.
// Migrations are applied in version order (oldest first).
//
// Each migration runs in its own transaction. If migration N fails,
// migrations 1 to N-1 remain committed, N is rolled back, and N+1
// onwards are not attempted. Re-running Migrate() after fixing the
// issue continues from N.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If any migration fails (that migration is rolled back)
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}

	appliedSet := make(map[string]bool, len(applied))
	for _, m := range applied {
		appliedSet[m.Version] = true
	}

	for _, migration := range migrations {
		if appliedSet[migration.Version] {
			continue
		}
		if err := db.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("applying migration %s (%s): %w",
				migration.Version, migration.Name, err)
		}
	}

	return nil
}

// createMigrationsTable creates the schema_migrations tracking table.
func (db *DB) createMigrationsTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`)
	return err
}

// getAppliedMigrations returns the recorded migration history in order.
func (db *DB) getAppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.Version, &rec.AppliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// applyMigration runs one migration inside its own transaction.
func (db *DB) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("executing migration SQL: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version) VALUES (?)",
		migration.Version); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit()
}
