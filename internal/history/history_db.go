package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mrfox365/traveler-api/internal/migrations"
	"github.com/mrfox365/traveler-api/internal/runner"
)

// ErrNotFound is returned for an unknown run id
var ErrNotFound = errors.New("run not found")

// DirPermissions for the database directory
const DirPermissions = 0755

type Manager struct {
	db *sql.DB
}

// NewManager opens (creating if needed) the history database at dbPath.
// ":memory:" gives a private in-memory database.
func NewManager(dbPath string) (*Manager, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// one connection: sqlite serializes writers and :memory: is per-connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db}, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// SaveResult stores a finished run with its endpoints, thresholds, checks and shards
func (m *Manager) SaveResult(res *runner.Result) (int64, error) {
	return m.Save(FromResult(res))
}

// Save inserts run and its detail rows in one transaction and sets run.ID
func (m *Manager) Save(run *Run) (int64, error) {
	tx, err := m.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO runs
		(scenario, base_url, status, passed, started_at, ended_at, duration_ms, max_vus,
		 iterations, iterations_aborted, iterations_interrupted, iteration_errors,
		 http_reqs, http_req_failed_rate, api_errors, api_error_rate, conflicts, conflict_rate,
		 checks_passed, checks_failed,
		 avg_duration_ms, min_duration_ms, max_duration_ms, med_duration_ms,
		 p90_duration_ms, p95_duration_ms, p99_duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Scenario, run.BaseURL, string(run.Status), run.Passed, run.StartedAt, run.EndedAt, run.DurationMs, run.MaxVUs,
		run.Iterations, run.IterationsAborted, run.IterationsInterrupted, run.IterationErrors,
		run.HTTPReqs, run.HTTPReqFailedRate, run.APIErrors, run.APIErrorRate, run.Conflicts, run.ConflictRate,
		run.ChecksPassed, run.ChecksFailed,
		run.AvgDurationMs, run.MinDurationMs, run.MaxDurationMs, run.MedDurationMs,
		run.P90DurationMs, run.P95DurationMs, run.P99DurationMs)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	for _, e := range run.Endpoints {
		_, err := tx.Exec(`
			INSERT INTO run_endpoints
			(run_id, method, endpoint, requests, failed, avg_duration_ms, p95_duration_ms, max_duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, e.Method, e.Endpoint, e.Requests, e.Failed, e.AvgDurationMs, e.P95DurationMs, e.MaxDurationMs)
		if err != nil {
			return 0, fmt.Errorf("failed to insert endpoint %s %s: %w", e.Method, e.Endpoint, err)
		}
	}

	for _, t := range run.Thresholds {
		_, err := tx.Exec(`
			INSERT INTO run_thresholds (run_id, metric, expr, observed, passed)
			VALUES (?, ?, ?, ?, ?)
		`, id, t.Metric, t.Expr, t.Observed, t.Passed)
		if err != nil {
			return 0, fmt.Errorf("failed to insert threshold %s: %w", t.Metric, err)
		}
	}

	for _, c := range run.Checks {
		_, err := tx.Exec(`
			INSERT INTO run_checks (run_id, name, passes, fails)
			VALUES (?, ?, ?, ?)
		`, id, c.Name, c.Passes, c.Fails)
		if err != nil {
			return 0, fmt.Errorf("failed to insert check %q: %w", c.Name, err)
		}
	}

	for key, n := range run.Shards {
		_, err := tx.Exec(`
			INSERT INTO run_shards (run_id, shard_key, records)
			VALUES (?, ?, ?)
		`, id, key, n)
		if err != nil {
			return 0, fmt.Errorf("failed to insert shard %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit run: %w", err)
	}

	run.ID = id
	return id, nil
}

const runColumns = `
	id, scenario, base_url, status, passed, started_at, ended_at, duration_ms, max_vus,
	iterations, iterations_aborted, iterations_interrupted, iteration_errors,
	http_reqs, http_req_failed_rate, api_errors, api_error_rate, conflicts, conflict_rate,
	checks_passed, checks_failed,
	COALESCE(avg_duration_ms, 0), COALESCE(min_duration_ms, 0), COALESCE(max_duration_ms, 0),
	COALESCE(med_duration_ms, 0), COALESCE(p90_duration_ms, 0), COALESCE(p95_duration_ms, 0),
	COALESCE(p99_duration_ms, 0)`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	run := &Run{}
	var status string
	err := row.Scan(&run.ID, &run.Scenario, &run.BaseURL, &status, &run.Passed, &run.StartedAt, &run.EndedAt,
		&run.DurationMs, &run.MaxVUs,
		&run.Iterations, &run.IterationsAborted, &run.IterationsInterrupted, &run.IterationErrors,
		&run.HTTPReqs, &run.HTTPReqFailedRate, &run.APIErrors, &run.APIErrorRate, &run.Conflicts, &run.ConflictRate,
		&run.ChecksPassed, &run.ChecksFailed,
		&run.AvgDurationMs, &run.MinDurationMs, &run.MaxDurationMs,
		&run.MedDurationMs, &run.P90DurationMs, &run.P95DurationMs, &run.P99DurationMs)
	if err != nil {
		return nil, err
	}
	run.Status = runner.Status(status)
	return run, nil
}

// ListRuns returns stored runs, newest first. A scenario filter of "" means all.
func (m *Manager) ListRuns(scenario string, limit int) ([]*Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if scenario != "" {
		query += " WHERE scenario = ?"
		args = append(args, strings.ToLower(scenario))
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns a run with all its detail rows
func (m *Manager) GetRun(id int64) (*Run, error) {
	run, err := scanRun(m.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}

	if run.Endpoints, err = m.endpoints(id); err != nil {
		return nil, err
	}
	if run.Thresholds, err = m.thresholds(id); err != nil {
		return nil, err
	}
	if run.Checks, err = m.checks(id); err != nil {
		return nil, err
	}
	if run.Shards, err = m.shards(id); err != nil {
		return nil, err
	}
	return run, nil
}

func (m *Manager) endpoints(runID int64) ([]Endpoint, error) {
	rows, err := m.db.Query(`
		SELECT method, endpoint, requests, failed, COALESCE(avg_duration_ms, 0),
		       COALESCE(p95_duration_ms, 0), COALESCE(max_duration_ms, 0)
		FROM run_endpoints WHERE run_id = ? ORDER BY endpoint, method
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoints: %w", err)
	}
	defer rows.Close()

	var out []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.Method, &e.Endpoint, &e.Requests, &e.Failed, &e.AvgDurationMs, &e.P95DurationMs, &e.MaxDurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (m *Manager) thresholds(runID int64) ([]Threshold, error) {
	rows, err := m.db.Query(`
		SELECT metric, expr, observed, passed
		FROM run_thresholds WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thresholds: %w", err)
	}
	defer rows.Close()

	var out []Threshold
	for rows.Next() {
		var t Threshold
		if err := rows.Scan(&t.Metric, &t.Expr, &t.Observed, &t.Passed); err != nil {
			return nil, fmt.Errorf("failed to scan threshold: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (m *Manager) checks(runID int64) ([]Check, error) {
	rows, err := m.db.Query(`
		SELECT name, passes, fails
		FROM run_checks WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checks: %w", err)
	}
	defer rows.Close()

	var out []Check
	for rows.Next() {
		var c Check
		if err := rows.Scan(&c.Name, &c.Passes, &c.Fails); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (m *Manager) shards(runID int64) (map[string]int64, error) {
	rows, err := m.db.Query(`
		SELECT shard_key, records FROM run_shards WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load shards: %w", err)
	}
	defer rows.Close()

	var out map[string]int64
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan shard: %w", err)
		}
		if out == nil {
			out = make(map[string]int64)
		}
		out[key] = n
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its detail rows
func (m *Manager) DeleteRun(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"run_endpoints", "run_thresholds", "run_checks", "run_shards"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE run_id = ?", id); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}

	result, err := tx.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return tx.Commit()
}

// Count returns the number of stored runs
func (m *Manager) Count() (int, error) {
	var count int
	err := m.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	return count, err
}
