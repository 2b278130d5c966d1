package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Create run history tables",
		Up: `
			CREATE TABLE IF NOT EXISTS runs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				scenario TEXT NOT NULL,
				base_url TEXT NOT NULL,
				status TEXT NOT NULL,
				passed INTEGER NOT NULL DEFAULT 0,
				started_at DATETIME NOT NULL,
				ended_at DATETIME NOT NULL,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				max_vus INTEGER NOT NULL DEFAULT 0,
				iterations INTEGER NOT NULL DEFAULT 0,
				iterations_aborted INTEGER NOT NULL DEFAULT 0,
				iterations_interrupted INTEGER NOT NULL DEFAULT 0,
				iteration_errors INTEGER NOT NULL DEFAULT 0,
				http_reqs INTEGER NOT NULL DEFAULT 0,
				http_req_failed_rate REAL NOT NULL DEFAULT 0,
				api_errors INTEGER NOT NULL DEFAULT 0,
				api_error_rate REAL NOT NULL DEFAULT 0,
				conflicts INTEGER NOT NULL DEFAULT 0,
				conflict_rate REAL NOT NULL DEFAULT 0,
				checks_passed INTEGER NOT NULL DEFAULT 0,
				checks_failed INTEGER NOT NULL DEFAULT 0,
				avg_duration_ms REAL DEFAULT 0,
				min_duration_ms REAL DEFAULT 0,
				max_duration_ms REAL DEFAULT 0,
				med_duration_ms REAL DEFAULT 0,
				p90_duration_ms REAL DEFAULT 0,
				p95_duration_ms REAL DEFAULT 0,
				p99_duration_ms REAL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS run_endpoints (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL,
				method TEXT NOT NULL,
				endpoint TEXT NOT NULL,
				requests INTEGER NOT NULL DEFAULT 0,
				failed INTEGER NOT NULL DEFAULT 0,
				avg_duration_ms REAL DEFAULT 0,
				p95_duration_ms REAL DEFAULT 0,
				max_duration_ms REAL DEFAULT 0,
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS run_thresholds (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL,
				metric TEXT NOT NULL,
				expr TEXT NOT NULL,
				observed REAL NOT NULL,
				passed INTEGER NOT NULL,
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);

			CREATE TABLE IF NOT EXISTS run_checks (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				passes INTEGER NOT NULL DEFAULT 0,
				fails INTEGER NOT NULL DEFAULT 0,
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);
		`,
		Down: `
			DROP TABLE IF EXISTS run_checks;
			DROP TABLE IF EXISTS run_thresholds;
			DROP TABLE IF EXISTS run_endpoints;
			DROP TABLE IF EXISTS runs;
		`,
	},
	{
		Version: 2,
		Name:    "Add indexes for run listing and detail lookups",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
			CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario, started_at DESC);
			CREATE INDEX IF NOT EXISTS idx_run_endpoints_run_id ON run_endpoints(run_id);
			CREATE INDEX IF NOT EXISTS idx_run_thresholds_run_id ON run_thresholds(run_id);
			CREATE INDEX IF NOT EXISTS idx_run_checks_run_id ON run_checks(run_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_runs_started_at;
			DROP INDEX IF EXISTS idx_runs_scenario;
			DROP INDEX IF EXISTS idx_run_endpoints_run_id;
			DROP INDEX IF EXISTS idx_run_thresholds_run_id;
			DROP INDEX IF EXISTS idx_run_checks_run_id;
		`,
	},
	{
		Version: 3,
		Name:    "Add shard distribution table",
		Up: `
			CREATE TABLE IF NOT EXISTS run_shards (
				run_id INTEGER NOT NULL,
				shard_key TEXT NOT NULL,
				records INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (run_id, shard_key),
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);
		`,
		Down: `
			DROP TABLE IF EXISTS run_shards;
		`,
	},
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Create migrations tracking table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	// Apply pending migrations, each in its own transaction
	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := apply(db, migration); err != nil {
			return err
		}
	}

	return nil
}

func apply(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.Up); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		migration.Version,
		migration.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
