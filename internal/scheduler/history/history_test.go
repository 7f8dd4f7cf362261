package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

func repos(t *testing.T) map[string]Repository {
	t.Helper()
	sqlite, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Repository{
		"sqlite": sqlite,
		"memory": NewMemoryRepository(),
	}
}

func seedRun(id, agent string, status v1.RunStatus, startedAt time.Time, cost float64) *v1.RunLog {
	runLog := &v1.RunLog{
		RunID:      id,
		AgentName:  agent,
		StartedAt:  startedAt,
		Status:     status,
		OutputFile: "/tmp/" + id + ".log",
	}
	if status.Terminal() {
		done := startedAt.Add(time.Minute)
		duration := 60
		code := 0
		runLog.CompletedAt = &done
		runLog.DurationSecs = &duration
		runLog.ExitCode = &code
	}
	if cost > 0 {
		runLog.CostUSD = &cost
	}
	return runLog
}

func TestRecordAndGet(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

			in := seedRun("run1", "alpha", v1.RunStatusSuccess, now, 0.5)
			in.ResumeSessionID = "sess-1"
			if err := repo.Record(ctx, in); err != nil {
				t.Fatal(err)
			}

			out, err := repo.Get(ctx, "run1")
			if err != nil {
				t.Fatal(err)
			}
			if out.AgentName != "alpha" || out.Status != v1.RunStatusSuccess {
				t.Errorf("got %+v", out)
			}
			if out.CostUSD == nil || *out.CostUSD != 0.5 {
				t.Errorf("cost = %v", out.CostUSD)
			}
			if out.ResumeSessionID != "sess-1" {
				t.Errorf("resume = %q", out.ResumeSessionID)
			}
			if !out.StartedAt.Equal(now) {
				t.Errorf("started_at = %s, want %s", out.StartedAt, now)
			}
		})
	}
}

func TestRecordReplacesOnSameID(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Second)

			running := seedRun("run1", "alpha", v1.RunStatusRunning, now, 0)
			if err := repo.Record(ctx, running); err != nil {
				t.Fatal(err)
			}

			final := seedRun("run1", "alpha", v1.RunStatusCancelled, now, 0)
			final.Error = "crash-recovered"
			if err := repo.Record(ctx, final); err != nil {
				t.Fatal(err)
			}

			out, err := repo.Get(ctx, "run1")
			if err != nil {
				t.Fatal(err)
			}
			if out.Status != v1.RunStatusCancelled || out.Error != "crash-recovered" {
				t.Errorf("got %+v", out)
			}

			running2, _ := repo.Running(ctx)
			if len(running2) != 0 {
				t.Errorf("still running: %v", running2)
			}
		})
	}
}

func TestListFilterAndLimit(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

			for i := 0; i < 5; i++ {
				agent := "alpha"
				if i%2 == 1 {
					agent = "beta"
				}
				id := "run" + string(rune('0'+i))
				if err := repo.Record(ctx, seedRun(id, agent, v1.RunStatusSuccess, base.Add(time.Duration(i)*time.Minute), 0)); err != nil {
					t.Fatal(err)
				}
			}

			all, err := repo.List(ctx, "", 0)
			if err != nil || len(all) != 5 {
				t.Fatalf("all = %d, %v", len(all), err)
			}
			// newest first
			if all[0].StartedAt.Before(all[1].StartedAt) {
				t.Error("not sorted newest-first")
			}

			alphas, _ := repo.List(ctx, "alpha", 0)
			if len(alphas) != 3 {
				t.Errorf("alpha runs = %d", len(alphas))
			}

			limited, _ := repo.List(ctx, "", 2)
			if len(limited) != 2 {
				t.Errorf("limited = %d", len(limited))
			}
		})
	}
}

func TestLastTerminalSkipsRunning(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

			if err := repo.Record(ctx, seedRun("old", "alpha", v1.RunStatusFailed, base, 0)); err != nil {
				t.Fatal(err)
			}
			if err := repo.Record(ctx, seedRun("new", "alpha", v1.RunStatusRunning, base.Add(time.Hour), 0)); err != nil {
				t.Fatal(err)
			}

			last, err := repo.LastTerminal(ctx, "alpha")
			if err != nil {
				t.Fatal(err)
			}
			if last == nil || last.RunID != "old" {
				t.Errorf("last = %+v", last)
			}

			none, err := repo.LastTerminal(ctx, "ghost")
			if err != nil || none != nil {
				t.Errorf("ghost = %+v, %v", none, err)
			}
		})
	}
}

func TestStatsAndOutcomes(t *testing.T) {
	for name, repo := range repos(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

			statuses := []v1.RunStatus{
				v1.RunStatusSuccess, v1.RunStatusSuccess,
				v1.RunStatusFailed, v1.RunStatusTimeout,
			}
			for i, status := range statuses {
				id := "run" + string(rune('0'+i))
				if err := repo.Record(ctx, seedRun(id, "alpha", status, base.Add(time.Duration(i)*time.Minute), 0.25)); err != nil {
					t.Fatal(err)
				}
			}

			stats, err := repo.Stats(ctx, "alpha")
			if err != nil {
				t.Fatal(err)
			}
			if stats.TotalRuns != 4 || stats.Successes != 2 || stats.Failures != 1 || stats.Timeouts != 1 {
				t.Errorf("stats = %+v", stats)
			}
			if stats.TotalCostUSD != 1.0 {
				t.Errorf("cost = %f", stats.TotalCostUSD)
			}
			if stats.LastRun == nil || stats.LastRun.Status != v1.RunStatusTimeout {
				t.Errorf("last = %+v", stats.LastRun)
			}

			total, successes, err := repo.RecentOutcomes(ctx, 3)
			if err != nil {
				t.Fatal(err)
			}
			// Newest three: timeout, failed, success
			if total != 3 || successes != 1 {
				t.Errorf("outcomes = %d/%d", successes, total)
			}
		})
	}
}
