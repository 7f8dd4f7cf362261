package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// SQLiteRepository provides SQLite-based run-history storage.
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (or creates) the run index at dbPath.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		duration_secs INTEGER,
		exit_code INTEGER,
		output_file TEXT NOT NULL,
		error TEXT DEFAULT '',
		cost_usd REAL,
		resume_session_id TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_name, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Record inserts or replaces a run.
func (r *SQLiteRepository) Record(ctx context.Context, runLog *v1.RunLog) error {
	var completedAt *time.Time
	if runLog.CompletedAt != nil {
		completedAt = runLog.CompletedAt
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(run_id, agent_name, started_at, completed_at, status, duration_secs,
		 exit_code, output_file, error, cost_usd, resume_session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runLog.RunID, runLog.AgentName, runLog.StartedAt.UTC(), completedAt,
		string(runLog.Status), runLog.DurationSecs, runLog.ExitCode,
		runLog.OutputFile, runLog.Error, runLog.CostUSD, runLog.ResumeSessionID)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// List returns runs newest-first, optionally filtered by agent.
func (r *SQLiteRepository) List(ctx context.Context, agent string, limit int) ([]*v1.RunLog, error) {
	query := `SELECT run_id, agent_name, started_at, completed_at, status, duration_secs,
		exit_code, output_file, error, cost_usd, resume_session_id FROM runs`
	var args []interface{}
	if agent != "" {
		query += ` WHERE agent_name = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Get returns one run by id.
func (r *SQLiteRepository) Get(ctx context.Context, runID string) (*v1.RunLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, agent_name, started_at, completed_at,
		status, duration_secs, exit_code, output_file, error, cost_usd, resume_session_id
		FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, sql.ErrNoRows
	}
	return runs[0], nil
}

// LastTerminal returns the newest terminal run for an agent, or nil.
func (r *SQLiteRepository) LastTerminal(ctx context.Context, agent string) (*v1.RunLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, agent_name, started_at, completed_at,
		status, duration_secs, exit_code, output_file, error, cost_usd, resume_session_id
		FROM runs WHERE agent_name = ? AND status != ?
		ORDER BY started_at DESC LIMIT 1`, agent, string(v1.RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query last run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// Running returns every run still recorded as running.
func (r *SQLiteRepository) Running(ctx context.Context) ([]*v1.RunLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT run_id, agent_name, started_at, completed_at,
		status, duration_secs, exit_code, output_file, error, cost_usd, resume_session_id
		FROM runs WHERE status = ?`, string(v1.RunStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query running runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Stats aggregates one agent's history.
func (r *SQLiteRepository) Stats(ctx context.Context, agent string) (*AgentStats, error) {
	stats := &AgentStats{AgentName: agent}

	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(cost_usd), 0)
		FROM runs WHERE agent_name = ?`, agent)
	if err := row.Scan(&stats.TotalRuns, &stats.Successes, &stats.Failures,
		&stats.Timeouts, &stats.Cancelled, &stats.TotalCostUSD); err != nil {
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}

	last, err := r.LastTerminal(ctx, agent)
	if err != nil {
		return nil, err
	}
	stats.LastRun = last
	return stats, nil
}

// RecentOutcomes returns totals of the newest n terminal runs.
func (r *SQLiteRepository) RecentOutcomes(ctx context.Context, n int) (int, int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0)
		FROM (SELECT status FROM runs WHERE status != ?
		      ORDER BY started_at DESC LIMIT ?)`,
		string(v1.RunStatusRunning), n)
	var total, successes int
	if err := row.Scan(&total, &successes); err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate outcomes: %w", err)
	}
	return total, successes, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func scanRuns(rows *sql.Rows) ([]*v1.RunLog, error) {
	var runs []*v1.RunLog
	for rows.Next() {
		var (
			runLog      v1.RunLog
			status      string
			completedAt sql.NullTime
			duration    sql.NullInt64
			exitCode    sql.NullInt64
			cost        sql.NullFloat64
		)
		if err := rows.Scan(&runLog.RunID, &runLog.AgentName, &runLog.StartedAt,
			&completedAt, &status, &duration, &exitCode, &runLog.OutputFile,
			&runLog.Error, &cost, &runLog.ResumeSessionID); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runLog.Status = v1.RunStatus(status)
		if completedAt.Valid {
			t := completedAt.Time.UTC()
			runLog.CompletedAt = &t
		}
		if duration.Valid {
			d := int(duration.Int64)
			runLog.DurationSecs = &d
		}
		if exitCode.Valid {
			c := int(exitCode.Int64)
			runLog.ExitCode = &c
		}
		if cost.Valid {
			v := cost.Float64
			runLog.CostUSD = &v
		}
		runLog.StartedAt = runLog.StartedAt.UTC()
		runs = append(runs, &runLog)
	}
	return runs, rows.Err()
}
