// Package scheduler owns the set of armed schedules, fires them at cron
// time, enforces catch-up and concurrency, and accepts ad-hoc triggers.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/events"
	"github.com/nolan-sh/nolan/internal/executor"
	"github.com/nolan-sh/nolan/internal/scheduler/history"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// maxCatchUpFirings bounds run-all catch-up after a long downtime.
const maxCatchUpFirings = 50

// recentWindow is the run count over which health success rate is computed.
const recentWindow = 20

// AgentSource resolves agent definitions.
type AgentSource interface {
	GetAgent(ctx context.Context, name string) (v1.Agent, error)
}

// Runner executes compiled agent runs and hosts interactive sessions.
type Runner interface {
	Execute(ctx context.Context, a v1.Agent, opts executor.Options) (*v1.RunLog, error)
	StartInteractive(ctx context.Context, a v1.Agent, opts executor.Options) (string, error)
	SpawnInstance(ctx context.Context, a v1.Agent, label string, opts executor.Options) (string, error)
	CancelAgent(agent string) error
	RunningAgents() []string
	RunningCount() int
}

// Scheduler is the cron- and event-driven dispatcher.
type Scheduler struct {
	resolver *paths.Resolver
	agents   AgentSource
	runner   Runner
	history  history.Repository
	bus      *events.Bus
	logger   *logger.Logger

	mu        sync.RWMutex
	schedules map[string]v1.Schedule
	queue     *runQueue

	wake chan struct{}
	now  func() time.Time
	wg   sync.WaitGroup
}

// NewScheduler creates a scheduler. The bus may be nil; agent-finished
// events are then not emitted.
func NewScheduler(resolver *paths.Resolver, agents AgentSource, runner Runner, hist history.Repository, bus *events.Bus, log *logger.Logger) *Scheduler {
	return &Scheduler{
		resolver:  resolver,
		agents:    agents,
		runner:    runner,
		history:   hist,
		bus:       bus,
		logger:    log.WithFields(zap.String("component", "scheduler")),
		schedules: make(map[string]v1.Schedule),
		queue:     newRunQueue(),
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

// History exposes the run-history repository.
func (s *Scheduler) History() history.Repository {
	return s.history
}

// LoadAndArm reads the persisted schedule set and arms every enabled
// schedule. Idempotent: re-arming an armed schedule keeps its firing
// sequence.
func (s *Scheduler) LoadAndArm(ctx context.Context) error {
	persisted, err := loadSchedules(s.resolver)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, schedule := range persisted {
		s.schedules[schedule.ID] = schedule
		if !schedule.Enabled {
			continue
		}
		if err := s.armLocked(schedule); err != nil {
			s.logger.Error("failed to arm schedule",
				zap.String("schedule_id", schedule.ID),
				zap.String("agent", schedule.AgentName),
				zap.Error(err))
		}
	}
	s.wakeLoop()
	return nil
}

// armLocked computes the next firing and inserts into the queue. Callers
// hold s.mu.
func (s *Scheduler) armLocked(schedule v1.Schedule) error {
	cronSchedule, err := ParseCron(schedule.CronExpression, schedule.Timezone)
	if err != nil {
		return err
	}
	s.queue.upsert(schedule.ID, cronSchedule.Next(s.now()))
	return nil
}

// Start runs the tick loop until context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	s.logger.Info("scheduler started")
}

// Stop waits for the tick loop to exit. Cancel the context passed to
// Start first.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		s.mu.RLock()
		next := s.queue.peek()
		s.mu.RUnlock()

		var timerC <-chan time.Time
		var timer *time.Timer
		if next != nil {
			d := next.nextRun.Sub(s.now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			s.fireDue(ctx)
		}
	}
}

// fireDue fires every schedule whose next_run has arrived and re-arms it.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := s.queue.popDue(now)
	for _, item := range due {
		schedule, ok := s.schedules[item.scheduleID]
		if !ok || !schedule.Enabled {
			continue
		}
		if err := s.armLocked(schedule); err != nil {
			s.logger.Error("failed to re-arm schedule",
				zap.String("schedule_id", schedule.ID),
				zap.Error(err))
		}
	}
	s.mu.Unlock()

	for _, item := range due {
		s.mu.RLock()
		schedule, ok := s.schedules[item.scheduleID]
		s.mu.RUnlock()
		if !ok || !schedule.Enabled {
			continue
		}

		s.logger.Info("firing schedule",
			zap.String("schedule_id", schedule.ID),
			zap.String("agent", schedule.AgentName))
		go func(agentName string) {
			if _, err := s.Run(ctx, agentName, executor.Options{}); err != nil {
				s.logger.Error("scheduled run failed to start",
					zap.String("agent", agentName),
					zap.Error(err))
			}
		}(schedule.AgentName)
	}
}

func (s *Scheduler) wakeLoop() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run resolves an agent and executes it through the shared execution
// contract. A crashing run must not poison the scheduler: failures come
// back as error values or failed RunLogs, never panics.
func (s *Scheduler) Run(ctx context.Context, agentName string, opts executor.Options) (runLog *v1.RunLog, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("run executor panicked",
				zap.String("agent", agentName),
				zap.Any("panic", r))
			err = apperrors.InternalError("run executor panicked", nil)
		}
	}()

	agent, err := s.agents.GetAgent(ctx, agentName)
	if err != nil {
		return nil, err
	}

	// Interactive agents live in supervisor sessions, not headless runs.
	if agent.Kind == v1.AgentKindInteractive {
		return nil, apperrors.Invalid(fmt.Sprintf("agent '%s' is interactive; dispatch it into a session", agentName))
	}

	runLog, err = s.runner.Execute(ctx, agent, opts)
	if err != nil {
		return nil, err
	}

	if s.bus != nil {
		s.bus.Emit(v1.EventAgentFinished, map[string]string{
			"agent":  runLog.AgentName,
			"run_id": runLog.RunID,
			"status": string(runLog.Status),
		}, "scheduler")
	}
	return runLog, nil
}

// TriggerAsync fires an agent in the background through the ad-hoc path.
func (s *Scheduler) TriggerAsync(ctx context.Context, agentName string, opts executor.Options) {
	go func() {
		if _, err := s.Run(context.WithoutCancel(ctx), agentName, opts); err != nil {
			s.logger.Error("ad-hoc run failed",
				zap.String("agent", agentName),
				zap.Error(err))
		}
	}()
}

// StartInteractive resolves an interactive agent and hosts it in its core
// supervisor session. Returns the session name.
func (s *Scheduler) StartInteractive(ctx context.Context, agentName string) (string, error) {
	agent, err := s.agents.GetAgent(ctx, agentName)
	if err != nil {
		return "", err
	}
	if !agent.Enabled {
		return "", apperrors.Invalid(fmt.Sprintf("agent '%s' is disabled", agentName))
	}
	return s.runner.StartInteractive(ctx, agent, executor.Options{})
}

// SpawnInstance hosts an additional instance of an interactive agent,
// optionally labelled.
func (s *Scheduler) SpawnInstance(ctx context.Context, agentName, label string) (string, error) {
	agent, err := s.agents.GetAgent(ctx, agentName)
	if err != nil {
		return "", err
	}
	if !agent.Enabled {
		return "", apperrors.Invalid(fmt.Sprintf("agent '%s' is disabled", agentName))
	}
	return s.runner.SpawnInstance(ctx, agent, label, executor.Options{})
}

// CreateSchedule validates, persists, and (when enabled) arms a schedule.
func (s *Scheduler) CreateSchedule(ctx context.Context, agentName, expression, timezone string, enabled bool) (v1.Schedule, error) {
	agent, err := s.agents.GetAgent(ctx, agentName)
	if err != nil {
		return v1.Schedule{}, err
	}
	if agent.Kind == v1.AgentKindInteractive {
		return v1.Schedule{}, apperrors.Invalid(fmt.Sprintf("agent '%s' is interactive and cannot be scheduled", agentName))
	}
	if _, err := ParseCron(expression, timezone); err != nil {
		return v1.Schedule{}, err
	}

	schedule := v1.Schedule{
		ID:             uuid.New().String(),
		AgentName:      agentName,
		CronExpression: expression,
		Timezone:       timezone,
		Enabled:        enabled,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedules[schedule.ID] = schedule
	if enabled {
		if err := s.armLocked(schedule); err != nil {
			delete(s.schedules, schedule.ID)
			return v1.Schedule{}, err
		}
	}
	if err := s.persistLocked(); err != nil {
		s.queue.remove(schedule.ID)
		delete(s.schedules, schedule.ID)
		return v1.Schedule{}, err
	}
	s.wakeLoop()
	return s.withNextRunLocked(schedule), nil
}

// UpdateSchedule replaces a schedule's expression, timezone, and enabled
// bit, re-arming as needed.
func (s *Scheduler) UpdateSchedule(ctx context.Context, id, expression, timezone string, enabled bool) (v1.Schedule, error) {
	if _, err := ParseCron(expression, timezone); err != nil {
		return v1.Schedule{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return v1.Schedule{}, apperrors.NotFound("schedule", id)
	}

	schedule.CronExpression = expression
	schedule.Timezone = timezone
	schedule.Enabled = enabled
	s.schedules[id] = schedule

	s.queue.remove(id)
	if enabled {
		if err := s.armLocked(schedule); err != nil {
			return v1.Schedule{}, err
		}
	}
	if err := s.persistLocked(); err != nil {
		return v1.Schedule{}, err
	}
	s.wakeLoop()
	return s.withNextRunLocked(schedule), nil
}

// Toggle arms or disarms a schedule. Re-enabling yields the same firing
// sequence as creating it enabled.
func (s *Scheduler) Toggle(ctx context.Context, id string, enabled bool) (v1.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return v1.Schedule{}, apperrors.NotFound("schedule", id)
	}

	schedule.Enabled = enabled
	s.schedules[id] = schedule

	if enabled {
		if err := s.armLocked(schedule); err != nil {
			return v1.Schedule{}, err
		}
	} else {
		s.queue.remove(id)
	}
	if err := s.persistLocked(); err != nil {
		return v1.Schedule{}, err
	}
	s.wakeLoop()
	return s.withNextRunLocked(schedule), nil
}

// DeleteSchedule disarms and removes a schedule atomically.
func (s *Scheduler) DeleteSchedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return apperrors.NotFound("schedule", id)
	}

	// Unarm first, then delete, under one lock
	s.queue.remove(id)
	delete(s.schedules, id)
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.wakeLoop()
	return nil
}

// GetSchedule returns one schedule with its derived next_run.
func (s *Scheduler) GetSchedule(ctx context.Context, id string) (v1.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return v1.Schedule{}, apperrors.NotFound("schedule", id)
	}
	return s.withNextRunLocked(schedule), nil
}

// ListSchedules returns every schedule with derived next_run times.
func (s *Scheduler) ListSchedules(ctx context.Context) []v1.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]v1.Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		out = append(out, s.withNextRunLocked(schedule))
	}
	return out
}

func (s *Scheduler) withNextRunLocked(schedule v1.Schedule) v1.Schedule {
	if next, ok := s.queue.nextRunOf(schedule.ID); ok {
		schedule.NextRun = &next
	} else {
		schedule.NextRun = nil
	}
	return schedule
}

func (s *Scheduler) persistLocked() error {
	schedules := make([]v1.Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		schedules = append(schedules, schedule)
	}
	return saveSchedules(s.resolver, schedules)
}

// CatchUp evaluates every enabled schedule's catch-up policy against its
// most recent terminal run. Fired catch-ups run serially.
func (s *Scheduler) CatchUp(ctx context.Context) int {
	s.mu.RLock()
	schedules := make([]v1.Schedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		if schedule.Enabled {
			schedules = append(schedules, schedule)
		}
	}
	s.mu.RUnlock()

	fired := 0
	for _, schedule := range schedules {
		fired += s.catchUpOne(ctx, schedule)
	}
	return fired
}

func (s *Scheduler) catchUpOne(ctx context.Context, schedule v1.Schedule) int {
	agent, err := s.agents.GetAgent(ctx, schedule.AgentName)
	if err != nil {
		s.logger.Warn("catch-up skipped, agent unresolvable",
			zap.String("agent", schedule.AgentName),
			zap.Error(err))
		return 0
	}

	policy := agent.CatchupPolicy
	if policy == "" || policy == v1.CatchUpSkip {
		return 0
	}

	last, err := s.history.LastTerminal(ctx, schedule.AgentName)
	if err != nil || last == nil {
		return 0
	}
	base := last.StartedAt
	if last.CompletedAt != nil {
		base = *last.CompletedAt
	}

	now := s.now()
	// A base in the future means the host clock moved backwards; treat
	// as skip.
	if base.After(now) {
		return 0
	}

	cronSchedule, err := ParseCron(schedule.CronExpression, schedule.Timezone)
	if err != nil {
		return 0
	}

	missed := 0
	for t := cronSchedule.Next(base); !t.After(now) && missed < maxCatchUpFirings; t = cronSchedule.Next(t) {
		missed++
	}
	if missed == 0 {
		return 0
	}

	firings := 1
	if policy == v1.CatchUpRunAll {
		firings = missed
	}

	s.logger.Info("catching up missed runs",
		zap.String("agent", schedule.AgentName),
		zap.String("policy", string(policy)),
		zap.Int("missed", missed),
		zap.Int("firing", firings))

	for i := 0; i < firings; i++ {
		if _, err := s.Run(ctx, schedule.AgentName, executor.Options{}); err != nil {
			s.logger.Error("catch-up run failed",
				zap.String("agent", schedule.AgentName),
				zap.Error(err))
		}
	}
	return firings
}

// ListRuns returns run history, optionally filtered by agent.
func (s *Scheduler) ListRuns(ctx context.Context, agent string, limit int) ([]*v1.RunLog, error) {
	return s.history.List(ctx, agent, limit)
}

// GetRun returns one run by id.
func (s *Scheduler) GetRun(ctx context.Context, runID string) (*v1.RunLog, error) {
	runLog, err := s.history.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("run", runID)
		}
		return nil, apperrors.InternalError("failed to load run", err)
	}
	return runLog, nil
}

// CancelRun cancels every in-flight run of an agent.
func (s *Scheduler) CancelRun(agent string) error {
	return s.runner.CancelAgent(agent)
}

// RunningAgents lists agents with in-flight runs.
func (s *Scheduler) RunningAgents() []string {
	return s.runner.RunningAgents()
}

// Health aggregates scheduler state for the HTTP edge.
func (s *Scheduler) Health(ctx context.Context) v1.SchedulerHealth {
	s.mu.RLock()
	armed := s.queue.len()
	var nextPending *time.Time
	if item := s.queue.peek(); item != nil {
		t := item.nextRun
		nextPending = &t
	}
	s.mu.RUnlock()

	health := v1.SchedulerHealth{
		ArmedSchedules: armed,
		RunningAgents:  len(s.runner.RunningAgents()),
		NextPending:    nextPending,
	}

	total, successes, err := s.history.RecentOutcomes(ctx, recentWindow)
	if err == nil {
		health.RecentRuns = total
		health.RecentSuccesses = successes
		if total > 0 {
			health.SuccessRate = float64(successes) / float64(total)
		}
	}
	return health
}
