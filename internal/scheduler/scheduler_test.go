package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/executor"
	"github.com/nolan-sh/nolan/internal/scheduler/history"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

type fakeAgents struct {
	agents map[string]v1.Agent
}

func (f *fakeAgents) GetAgent(ctx context.Context, name string) (v1.Agent, error) {
	a, ok := f.agents[name]
	if !ok {
		return v1.Agent{}, apperrors.NotFound("agent", name)
	}
	return a, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	runs     []string
	sessions []string
}

func (f *fakeRunner) Execute(ctx context.Context, a v1.Agent, opts executor.Options) (*v1.RunLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, a.Name)
	now := time.Now().UTC()
	return &v1.RunLog{
		RunID:       "r" + a.Name,
		AgentName:   a.Name,
		StartedAt:   now,
		CompletedAt: &now,
		Status:      v1.RunStatusSuccess,
		OutputFile:  "/dev/null",
	}, nil
}

func (f *fakeRunner) StartInteractive(ctx context.Context, a v1.Agent, opts executor.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, "agent-"+a.Name)
	return "agent-" + a.Name, nil
}

func (f *fakeRunner) SpawnInstance(ctx context.Context, a v1.Agent, label string, opts executor.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := "agent-" + a.Name + "-2"
	f.sessions = append(f.sessions, name)
	return name, nil
}

func (f *fakeRunner) CancelAgent(agent string) error { return nil }
func (f *fakeRunner) RunningAgents() []string        { return nil }
func (f *fakeRunner) RunningCount() int              { return 0 }

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func testScheduler(t *testing.T, agents map[string]v1.Agent) (*Scheduler, *fakeRunner) {
	t.Helper()
	resolver, err := paths.NewResolver(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	runner := &fakeRunner{}
	s := NewScheduler(resolver, &fakeAgents{agents: agents}, runner, history.NewMemoryRepository(), nil, log)
	return s, runner
}

func cronAgent(name string) v1.Agent {
	return v1.Agent{Name: name, Kind: v1.AgentKindCron, Model: "sonnet", Enabled: true, Cron: "* * * * *"}
}

func TestParseCronFieldCounts(t *testing.T) {
	if _, err := ParseCron("* * * *", ""); err == nil {
		t.Error("4 fields must be invalid")
	}
	if _, err := ParseCron("* * * * *", ""); err != nil {
		t.Errorf("5 fields must parse: %v", err)
	}
	if _, err := ParseCron("30 * * * * *", ""); err != nil {
		t.Errorf("6 fields must parse: %v", err)
	}
	if _, err := ParseCron("* * * * * * *", ""); err == nil {
		t.Error("7 fields must be invalid")
	}
	if _, err := ParseCron("not a cron", ""); err == nil {
		t.Error("garbage must be invalid")
	}
}

func TestParseCronFiveFieldNormalisation(t *testing.T) {
	// A 5-field expression gets seconds pinned to 0
	s, err := ParseCron("*/5 * * * *", "")
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 7, 30, 10, 2, 30, 0, time.UTC)
	next := s.Next(base)
	if next.Second() != 0 {
		t.Errorf("seconds = %d, want 0", next.Second())
	}
	if next.Minute()%5 != 0 {
		t.Errorf("minute = %d, want multiple of 5", next.Minute())
	}
}

func TestParseCronMonotonic(t *testing.T) {
	s, err := ParseCron("15 3 * * *", "")
	if err != nil {
		t.Fatal(err)
	}

	cur := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	prev := cur
	for i := 0; i < 10; i++ {
		next := s.Next(prev)
		if !next.After(prev) {
			t.Fatalf("next_run sequence not increasing: %s -> %s", prev, next)
		}
		if next.Hour() != 3 || next.Minute() != 15 {
			t.Errorf("firing at %s, want 03:15", next)
		}
		prev = next
	}
}

func TestParseCronTimezone(t *testing.T) {
	s, err := ParseCron("0 9 * * *", "America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	// 9am New York in winter is 14:00 UTC
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	next := s.Next(base).UTC()
	if next.Hour() != 14 {
		t.Errorf("next = %s, want 14:00 UTC", next)
	}

	if _, err := ParseCron("0 9 * * *", "Not/AZone"); err == nil {
		t.Error("unknown timezone must be invalid")
	}
}

func TestRunQueueOrdering(t *testing.T) {
	q := newRunQueue()
	base := time.Unix(1000, 0)

	q.upsert("c", base.Add(3*time.Second))
	q.upsert("a", base.Add(1*time.Second))
	q.upsert("b", base.Add(2*time.Second))

	if q.peek().scheduleID != "a" {
		t.Errorf("peek = %s, want a", q.peek().scheduleID)
	}

	due := q.popDue(base.Add(2 * time.Second))
	if len(due) != 2 || due[0].scheduleID != "a" || due[1].scheduleID != "b" {
		t.Errorf("due = %v", due)
	}
	if q.len() != 1 {
		t.Errorf("len = %d", q.len())
	}

	// upsert moves an existing entry
	q.upsert("c", base)
	if q.peek().scheduleID != "c" || !q.peek().nextRun.Equal(base) {
		t.Errorf("upsert did not reorder: %+v", q.peek())
	}

	if !q.remove("c") || q.remove("c") {
		t.Error("remove must report presence")
	}
}

func TestScheduleCRUD(t *testing.T) {
	s, _ := testScheduler(t, map[string]v1.Agent{"alpha": cronAgent("alpha")})
	ctx := context.Background()

	created, err := s.CreateSchedule(ctx, "alpha", "*/10 * * * *", "", true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.NextRun == nil {
		t.Errorf("created = %+v", created)
	}

	// Unknown agent is rejected
	if _, err := s.CreateSchedule(ctx, "ghost", "* * * * *", "", true); !apperrors.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
	// Invalid expression is rejected
	if _, err := s.CreateSchedule(ctx, "alpha", "bad", "", true); apperrors.GetHTTPStatus(err) != 400 {
		t.Errorf("expected Invalid, got %v", err)
	}

	got, err := s.GetSchedule(ctx, created.ID)
	if err != nil || got.AgentName != "alpha" {
		t.Fatalf("get: %+v %v", got, err)
	}

	if err := s.DeleteSchedule(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSchedule(ctx, created.ID); !apperrors.IsNotFound(err) {
		t.Errorf("schedule survives delete: %v", err)
	}
}

func TestToggleRoundTrip(t *testing.T) {
	s, _ := testScheduler(t, map[string]v1.Agent{"alpha": cronAgent("alpha")})
	ctx := context.Background()

	created, err := s.CreateSchedule(ctx, "alpha", "0 12 * * *", "", true)
	if err != nil {
		t.Fatal(err)
	}
	firstNext := *created.NextRun

	off, err := s.Toggle(ctx, created.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if off.NextRun != nil {
		t.Error("disarmed schedule still has next_run")
	}

	on, err := s.Toggle(ctx, created.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	// toggle(off) then toggle(on) yields the same firing sequence
	if on.NextRun == nil || !on.NextRun.Equal(firstNext) {
		t.Errorf("next after re-enable = %v, want %v", on.NextRun, firstNext)
	}
}

func TestSchedulesPersistAcrossInstances(t *testing.T) {
	resolver, err := paths.NewResolver(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	agents := &fakeAgents{agents: map[string]v1.Agent{"alpha": cronAgent("alpha")}}
	ctx := context.Background()

	s1 := NewScheduler(resolver, agents, &fakeRunner{}, history.NewMemoryRepository(), nil, log)
	created, err := s1.CreateSchedule(ctx, "alpha", "*/5 * * * *", "", true)
	if err != nil {
		t.Fatal(err)
	}

	s2 := NewScheduler(resolver, agents, &fakeRunner{}, history.NewMemoryRepository(), nil, log)
	if err := s2.LoadAndArm(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := s2.GetSchedule(ctx, created.ID)
	if err != nil {
		t.Fatalf("schedule not persisted: %v", err)
	}
	if got.CronExpression != "*/5 * * * *" || got.NextRun == nil {
		t.Errorf("restored schedule = %+v", got)
	}
}

func TestTickLoopFires(t *testing.T) {
	s, runner := testScheduler(t, map[string]v1.Agent{"alpha": cronAgent("alpha")})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Every second (6-field expression)
	if _, err := s.CreateSchedule(ctx, "alpha", "* * * * * *", "", true); err != nil {
		t.Fatal(err)
	}

	s.Start(ctx)

	deadline := time.After(5 * time.Second)
	for runner.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("schedule never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	s.Stop()
}

func TestCatchUpPolicies(t *testing.T) {
	agents := map[string]v1.Agent{}
	for name, policy := range map[string]v1.CatchUpPolicy{
		"skipper": v1.CatchUpSkip,
		"oncer":   v1.CatchUpRunOnce,
		"aller":   v1.CatchUpRunAll,
	} {
		a := cronAgent(name)
		a.CatchupPolicy = policy
		a.Cron = "0 * * * *"
		agents[name] = a
	}

	s, runner := testScheduler(t, agents)
	ctx := context.Background()

	// Fix now and seed history three hours back: three missed hourly runs
	now := time.Date(2026, 7, 30, 12, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	past := now.Add(-3*time.Hour - 10*time.Minute)
	for name := range agents {
		done := past
		_ = s.history.Record(ctx, &v1.RunLog{
			RunID: "seed-" + name, AgentName: name,
			StartedAt: past, CompletedAt: &done,
			Status: v1.RunStatusSuccess, OutputFile: "/dev/null",
		})
	}

	for name := range agents {
		if _, err := s.CreateSchedule(ctx, name, "0 * * * *", "", true); err != nil {
			t.Fatal(err)
		}
	}

	fired := s.CatchUp(ctx)

	// Base 09:20, hourly at :00, now 12:30 -> missed 10:00, 11:00, 12:00
	counts := map[string]int{}
	runner.mu.Lock()
	for _, name := range runner.runs {
		counts[name]++
	}
	runner.mu.Unlock()

	if counts["skipper"] != 0 {
		t.Errorf("skip fired %d times", counts["skipper"])
	}
	if counts["oncer"] != 1 {
		t.Errorf("run-once fired %d times, want 1", counts["oncer"])
	}
	if counts["aller"] != 3 {
		t.Errorf("run-all fired %d times, want 3", counts["aller"])
	}
	if fired != counts["oncer"]+counts["aller"] {
		t.Errorf("fired = %d", fired)
	}
}

func TestCatchUpClockMovedBackwards(t *testing.T) {
	a := cronAgent("future")
	a.CatchupPolicy = v1.CatchUpRunAll
	s, runner := testScheduler(t, map[string]v1.Agent{"future": a})
	ctx := context.Background()

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	// Last run "completed" in the future relative to now
	future := now.Add(2 * time.Hour)
	_ = s.history.Record(ctx, &v1.RunLog{
		RunID: "seed", AgentName: "future",
		StartedAt: future, CompletedAt: &future,
		Status: v1.RunStatusSuccess, OutputFile: "/dev/null",
	})
	if _, err := s.CreateSchedule(ctx, "future", "* * * * *", "", true); err != nil {
		t.Fatal(err)
	}

	if fired := s.CatchUp(ctx); fired != 0 {
		t.Errorf("clock-backwards catch-up fired %d times, want 0", fired)
	}
	if runner.count() != 0 {
		t.Errorf("runner invoked %d times", runner.count())
	}
}

func TestInteractiveDispatch(t *testing.T) {
	interactive := v1.Agent{Name: "ralph", Kind: v1.AgentKindInteractive, Model: "opus", Enabled: true}
	s, runner := testScheduler(t, map[string]v1.Agent{"ralph": interactive})
	ctx := context.Background()

	// Interactive agents never take the headless run path
	if _, err := s.Run(ctx, "ralph", executor.Options{}); apperrors.GetHTTPStatus(err) != 400 {
		t.Errorf("headless run of interactive agent = %v", err)
	}
	if runner.count() != 0 {
		t.Errorf("runner executed %d headless runs", runner.count())
	}

	// They are hosted in supervisor sessions instead
	name, err := s.StartInteractive(ctx, "ralph")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if name != "agent-ralph" {
		t.Errorf("session = %s", name)
	}

	spawned, err := s.SpawnInstance(ctx, "ralph", "side quest")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if spawned != "agent-ralph-2" {
		t.Errorf("spawned = %s", spawned)
	}

	// And cannot be scheduled
	if _, err := s.CreateSchedule(ctx, "ralph", "* * * * *", "", true); apperrors.GetHTTPStatus(err) != 400 {
		t.Errorf("scheduling interactive agent = %v", err)
	}
}

func TestStartInteractiveDisabledAgent(t *testing.T) {
	disabled := v1.Agent{Name: "ralph", Kind: v1.AgentKindInteractive, Model: "opus", Enabled: false}
	s, _ := testScheduler(t, map[string]v1.Agent{"ralph": disabled})

	if _, err := s.StartInteractive(context.Background(), "ralph"); apperrors.GetHTTPStatus(err) != 400 {
		t.Errorf("disabled agent start = %v", err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := testScheduler(t, map[string]v1.Agent{"alpha": cronAgent("alpha")})
	ctx := context.Background()

	now := time.Now().UTC()
	done := now
	for i, status := range []v1.RunStatus{v1.RunStatusSuccess, v1.RunStatusSuccess, v1.RunStatusFailed} {
		_ = s.history.Record(ctx, &v1.RunLog{
			RunID: string(rune('a' + i)), AgentName: "alpha",
			StartedAt: now.Add(time.Duration(i) * time.Second), CompletedAt: &done,
			Status: status, OutputFile: "/dev/null",
		})
	}
	if _, err := s.CreateSchedule(ctx, "alpha", "0 0 * * *", "", true); err != nil {
		t.Fatal(err)
	}

	health := s.Health(ctx)
	if health.ArmedSchedules != 1 {
		t.Errorf("armed = %d", health.ArmedSchedules)
	}
	if health.RecentRuns != 3 || health.RecentSuccesses != 2 {
		t.Errorf("recent = %d/%d", health.RecentSuccesses, health.RecentRuns)
	}
	if health.NextPending == nil {
		t.Error("next pending missing")
	}
}
