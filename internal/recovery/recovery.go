// Package recovery reconciles sessions, schedules, and in-flight runs at
// startup, before the HTTP surface comes up.
package recovery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/executor"
	"github.com/nolan-sh/nolan/internal/scheduler/history"
	"github.com/nolan-sh/nolan/internal/session"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// Sessions enumerates live multiplexer sessions.
type Sessions interface {
	List(ctx context.Context) ([]v1.Session, error)
}

// Schedules re-arms persisted schedules and applies catch-up policy.
type Schedules interface {
	LoadAndArm(ctx context.Context) error
	CatchUp(ctx context.Context) int
}

// Summary is the result of one recovery pass.
type Summary struct {
	Recovered   int      `json:"recovered"`
	Interrupted int      `json:"interrupted"`
	Errors      []string `json:"errors"`
}

// Coordinator runs the startup reconciliation.
type Coordinator struct {
	sessions  Sessions
	schedules Schedules
	history   history.Repository
	logger    *logger.Logger
}

// NewCoordinator creates a recovery coordinator.
func NewCoordinator(sessions Sessions, schedules Schedules, hist history.Repository, log *logger.Logger) *Coordinator {
	return &Coordinator{
		sessions:  sessions,
		schedules: schedules,
		history:   hist,
		logger:    log.WithFields(zap.String("component", "recovery")),
	}
}

// Run performs one recovery pass. Running it twice on a quiescent system
// is a no-op.
func (c *Coordinator) Run(ctx context.Context) Summary {
	var summary Summary

	// 1. Enumerate live sessions; orphaned agent sessions are left intact
	// so the user can inspect them.
	live, err := c.sessions.List(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("list sessions: %v", err))
	}
	liveAgents := make(map[string]struct{})
	for _, s := range live {
		if s.Kind == v1.SessionKindInfrastructure {
			continue
		}
		liveAgents[agentOfSession(s.Name)] = struct{}{}
	}

	// 2. Rewrite RunLogs stranded in running: no run is in flight at
	// startup, so each one was interrupted by a crash.
	stranded, err := c.history.Running(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("query running runs: %v", err))
	}
	for _, runLog := range stranded {
		if err := c.cancelStranded(ctx, runLog); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("run %s: %v", runLog.RunID, err))
			continue
		}
		summary.Interrupted++
		if _, alive := liveAgents[runLog.AgentName]; alive {
			c.logger.Info("orphaned session left intact for inspection",
				zap.String("agent", runLog.AgentName),
				zap.String("run_id", runLog.RunID))
		}
	}

	// 3. Re-arm enabled schedules and apply catch-up.
	if err := c.schedules.LoadAndArm(ctx); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("arm schedules: %v", err))
	} else {
		summary.Recovered = c.schedules.CatchUp(ctx)
	}

	// 4. Summarise to standard error.
	fmt.Fprintf(os.Stderr, "recovery: recovered=%d interrupted=%d errors=%d\n",
		summary.Recovered, summary.Interrupted, len(summary.Errors))
	for _, msg := range summary.Errors {
		fmt.Fprintf(os.Stderr, "recovery error: %s\n", msg)
	}

	return summary
}

func (c *Coordinator) cancelStranded(ctx context.Context, runLog *v1.RunLog) error {
	now := time.Now().UTC()
	duration := int(now.Sub(runLog.StartedAt).Seconds())
	runLog.Status = v1.RunStatusCancelled
	runLog.Error = "crash-recovered"
	runLog.CompletedAt = &now
	runLog.DurationSecs = &duration

	if err := c.history.Record(ctx, runLog); err != nil {
		return err
	}

	// Rewrite the sibling JSON so the on-disk record agrees with the
	// index.
	if strings.HasSuffix(runLog.OutputFile, ".log") {
		jsonPath := strings.TrimSuffix(runLog.OutputFile, ".log") + ".json"
		if err := executor.WriteRunLog(jsonPath, runLog); err != nil {
			return err
		}
	}

	c.logger.Info("marked interrupted run as cancelled",
		zap.String("run_id", runLog.RunID),
		zap.String("agent", runLog.AgentName))
	return nil
}

// agentOfSession extracts the agent identifier from a session name.
func agentOfSession(name string) string {
	rest := strings.TrimPrefix(name, "agent-")
	if idx := strings.Index(rest, "-"); idx > 0 && !session.IsProtected(name) {
		return rest[:idx]
	}
	return rest
}
