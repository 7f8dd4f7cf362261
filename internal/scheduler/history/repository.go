// Package history indexes RunLogs for query. The dated RunLog JSON files
// remain authoritative; the index serves listing, stats, and health
// aggregates without scanning the run tree.
package history

import (
	"context"

	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// AgentStats aggregates an agent's run history.
type AgentStats struct {
	AgentName    string     `json:"agent_name"`
	TotalRuns    int        `json:"total_runs"`
	Successes    int        `json:"successes"`
	Failures     int        `json:"failures"`
	Timeouts     int        `json:"timeouts"`
	Cancelled    int        `json:"cancelled"`
	TotalCostUSD float64    `json:"total_cost_usd"`
	LastRun      *v1.RunLog `json:"last_run,omitempty"`
}

// Repository provides run-history storage operations.
type Repository interface {
	// Record inserts or replaces a run.
	Record(ctx context.Context, runLog *v1.RunLog) error

	// List returns runs newest-first, optionally filtered by agent.
	// limit <= 0 means no limit.
	List(ctx context.Context, agent string, limit int) ([]*v1.RunLog, error)

	// Get returns one run by id.
	Get(ctx context.Context, runID string) (*v1.RunLog, error)

	// LastTerminal returns the most recent run of an agent with a
	// terminal status, or nil when there is none.
	LastTerminal(ctx context.Context, agent string) (*v1.RunLog, error)

	// Running returns every run still recorded as running.
	Running(ctx context.Context) ([]*v1.RunLog, error)

	// Stats aggregates one agent's history.
	Stats(ctx context.Context, agent string) (*AgentStats, error)

	// RecentOutcomes returns the totals of the newest n terminal runs.
	RecentOutcomes(ctx context.Context, n int) (total int, successes int, err error)

	Close() error
}
