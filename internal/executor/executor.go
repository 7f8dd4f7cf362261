// Package executor runs compiled agent commands under a wall-clock
// timeout, capturing both streams and yielding append-only RunLogs.
package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/provider"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// DefaultTimeout applies when an agent declares no timeout_secs.
const DefaultTimeout = 300 * time.Second

// InstructionSource resolves an agent's prompt body.
type InstructionSource interface {
	ReadInstructions(ctx context.Context, name string) (string, error)
}

// ProviderSelector resolves a provider name to an implementation.
type ProviderSelector interface {
	Select(name string) provider.Provider
}

// RunRecorder observes RunLog transitions: once when a run starts and once
// when it reaches a terminal status.
type RunRecorder interface {
	Record(ctx context.Context, runLog *v1.RunLog) error
}

// SessionHost is the supervisor surface interactive agents are spawned
// through. Scheduler -> Executor -> Supervisor stays a DAG: the executor
// calls down into the host, never the reverse.
type SessionHost interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name, initialCommand, workingDir string, env map[string]string) error
	StreamOutput(ctx context.Context, name string) error
	SetLabel(ctx context.Context, name, label string) error
}

// Options adjust one execution beyond the agent's definition.
type Options struct {
	// PromptOverride replaces the instruction-file prompt (relaunch path).
	PromptOverride string
	// Resume re-enters the provider session named by SessionID.
	Resume    bool
	SessionID string
	// DryRun compiles the command without spawning.
	DryRun bool
}

// run tracks one in-flight execution.
type run struct {
	runID     string
	agent     string
	cancel    context.CancelFunc
	cancelled bool
	mu        sync.Mutex
}

func (r *run) markCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	r.cancel()
}

func (r *run) wasCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Executor owns an in-flight RunLog until it reaches a terminal status,
// and spawns interactive agents into supervisor sessions.
type Executor struct {
	resolver     *paths.Resolver
	instructions InstructionSource
	selector     ProviderSelector
	broadcaster  *Broadcaster
	sessions     SessionHost
	recorder     RunRecorder
	logger       *logger.Logger

	mu      sync.RWMutex
	running map[string]*run // by run id

	serialMu sync.Mutex
	serial   map[string]*sync.Mutex // per serial agent
}

// NewExecutor creates a run executor.
func NewExecutor(resolver *paths.Resolver, instructions InstructionSource, selector ProviderSelector, broadcaster *Broadcaster, sessions SessionHost, log *logger.Logger) *Executor {
	return &Executor{
		resolver:     resolver,
		instructions: instructions,
		selector:     selector,
		broadcaster:  broadcaster,
		sessions:     sessions,
		logger:       log.WithFields(zap.String("component", "run-executor")),
		running:      make(map[string]*run),
		serial:       make(map[string]*sync.Mutex),
	}
}

// Broadcaster returns the stdout fan-out.
func (e *Executor) Broadcaster() *Broadcaster {
	return e.broadcaster
}

// SetRecorder installs the run-history observer.
func (e *Executor) SetRecorder(recorder RunRecorder) {
	e.recorder = recorder
}

func (e *Executor) record(ctx context.Context, runLog *v1.RunLog) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, runLog); err != nil {
		e.logger.Error("failed to record run",
			zap.String("run_id", runLog.RunID),
			zap.Error(err))
	}
}

// CompileArgs builds the argv an execution would run, without spawning.
func (e *Executor) CompileArgs(ctx context.Context, a v1.Agent, opts Options) ([]string, error) {
	cfg, p, err := e.spawnConfig(ctx, a, opts)
	if err != nil {
		return nil, err
	}
	return p.BuildArgs(cfg), nil
}

func (e *Executor) spawnConfig(ctx context.Context, a v1.Agent, opts Options) (*provider.SpawnConfig, provider.Provider, error) {
	prompt := opts.PromptOverride
	if prompt == "" {
		body, err := e.instructions.ReadInstructions(ctx, a.Name)
		if err != nil {
			return nil, nil, err
		}
		prompt = body
	}

	workDir := a.WorkingDirectory
	if workDir == "" {
		root, err := paths.AgentWorkRoot()
		if err != nil {
			return nil, nil, apperrors.InternalError("failed to resolve work root", err)
		}
		workDir = root
	}

	cfg := &provider.SpawnConfig{
		Prompt:          prompt,
		Model:           a.Model,
		WorkingDir:      workDir,
		SessionID:       opts.SessionID,
		Resume:          opts.Resume,
		OutputFormat:    provider.OutputStreamJSON,
		AllowedTools:    a.Guardrails.AllowedTools,
		SkipPermissions: true,
		Verbose:         true,
	}

	if len(a.Guardrails.ForbiddenPaths) > 0 || a.Guardrails.MaxFileEdits > 0 || a.Guardrails.ExtraSystemPrompt != "" {
		cfg.SystemPromptAppend = guardrailPrompt(a.Guardrails)
	}

	return cfg, e.selector.Select(a.CLIProvider), nil
}

// guardrailPrompt renders the guardrail block injected into the child's
// system prompt.
func guardrailPrompt(g v1.Guardrails) string {
	var b strings.Builder
	b.WriteString("CRITICAL GUARDRAILS:")
	if len(g.ForbiddenPaths) > 0 {
		b.WriteString("\n- NEVER access these paths: " + strings.Join(g.ForbiddenPaths, ", "))
	}
	if g.MaxFileEdits > 0 {
		b.WriteString(fmt.Sprintf("\n- Maximum file edits: %d", g.MaxFileEdits))
	}
	if g.ExtraSystemPrompt != "" {
		b.WriteString("\n" + g.ExtraSystemPrompt)
	}
	return b.String()
}

// Execute runs an agent to completion and returns its RunLog. The RunLog
// JSON is written as a sibling of the output log before returning; both
// stream readers are joined before the final write.
func (e *Executor) Execute(ctx context.Context, a v1.Agent, opts Options) (*v1.RunLog, error) {
	if a.Serial {
		gate := e.serialGate(a.Name)
		if !gate.TryLock() {
			return nil, apperrors.Conflict(fmt.Sprintf("agent '%s' is serial and already running", a.Name))
		}
		defer gate.Unlock()
	}

	cfg, p, err := e.spawnConfig(ctx, a, opts)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()[:8]
	startedAt := time.Now().UTC()
	logPath := e.resolver.RunLogPath(a.Name, startedAt)
	jsonPath := e.resolver.RunJSONPath(a.Name, startedAt)

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, apperrors.InternalError("failed to create runs directory", err)
	}

	runLog := &v1.RunLog{
		RunID:      runID,
		AgentName:  a.Name,
		StartedAt:  startedAt,
		Status:     v1.RunStatusRunning,
		OutputFile: logPath,
	}

	if opts.DryRun {
		now := time.Now().UTC()
		zero := 0
		runLog.Status = v1.RunStatusSuccess
		runLog.CompletedAt = &now
		runLog.DurationSecs = &zero
		runLog.ExitCode = &zero
		runLog.OutputFile = "[dry run - no output]"
		return runLog, nil
	}

	timeout := DefaultTimeout
	if a.TimeoutSecs > 0 {
		timeout = time.Duration(a.TimeoutSecs) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tracked := &run{runID: runID, agent: a.Name, cancel: cancel}
	e.track(tracked)
	defer e.untrack(runID)

	args := p.BuildArgs(cfg)
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = ChildEnv(cfg.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperrors.SpawnFailed("failed to pipe stdout", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperrors.SpawnFailed("failed to pipe stderr", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, apperrors.InternalError("failed to create output log", err)
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, apperrors.SpawnFailed("failed to spawn "+args[0], err)
	}

	// The running RunLog hits disk and the index before any output, so a
	// crash mid-run leaves a record for the recovery coordinator.
	if err := WriteRunLog(jsonPath, runLog); err != nil {
		e.logger.Warn("failed to write initial run log", zap.Error(err))
	}
	e.record(ctx, runLog)

	e.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("agent", a.Name),
		zap.String("provider", p.Name()),
		zap.Duration("timeout", timeout))

	// Stdout streams line by line into the log file and onto the
	// broadcast channel; stderr is snapshotted for status classification.
	var wg sync.WaitGroup
	var stderrSnapshot strings.Builder
	var stderrMu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Fprintln(logFile, line)
			e.broadcaster.Publish(a.Name, line)
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			stderrMu.Lock()
			stderrSnapshot.WriteString(scanner.Text())
			stderrSnapshot.WriteString("\n")
			stderrMu.Unlock()
		}
	}()

	// Join both readers before Wait and before the final RunLog is
	// written: the child's exit must not outrun its readers. On timeout
	// or cancel the context kills the child, which delivers EOF.
	wg.Wait()
	waitErr := cmd.Wait()
	closeErr := logFile.Close()
	if closeErr != nil {
		e.logger.Warn("failed to close output log", zap.Error(closeErr))
	}

	completedAt := time.Now().UTC()
	duration := int(completedAt.Sub(startedAt).Seconds())
	runLog.CompletedAt = &completedAt
	runLog.DurationSecs = &duration

	stderrMu.Lock()
	errOut := strings.TrimSpace(stderrSnapshot.String())
	stderrMu.Unlock()

	switch {
	case tracked.wasCancelled():
		runLog.Status = v1.RunStatusCancelled
		runLog.Error = "cancelled"
	case runCtx.Err() == context.DeadlineExceeded:
		runLog.Status = v1.RunStatusTimeout
		runLog.Error = fmt.Sprintf("timeout after %s", timeout)
	case waitErr == nil:
		code := 0
		runLog.Status = v1.RunStatusSuccess
		runLog.ExitCode = &code
	default:
		runLog.Status = v1.RunStatusFailed
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			runLog.ExitCode = &code
		}
		if errOut != "" {
			runLog.Error = errOut
		} else {
			runLog.Error = waitErr.Error()
		}
	}

	// Provider-parsed cost and resume session, best-effort.
	parsed := p.ParseOutput(logPath)
	runLog.CostUSD = parsed.CostUSD
	runLog.ResumeSessionID = parsed.ResumeSessionID

	if err := WriteRunLog(jsonPath, runLog); err != nil {
		e.logger.Error("failed to write run log JSON",
			zap.String("run_id", runID),
			zap.Error(err))
	}
	e.record(ctx, runLog)

	e.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.String("agent", a.Name),
		zap.String("status", string(runLog.Status)),
		zap.Int("duration_secs", duration))

	return runLog, nil
}

// Cancel terminates a run by id. Cancellation shares the timeout's
// termination path and yields status cancelled.
func (e *Executor) Cancel(runID string) error {
	e.mu.RLock()
	tracked, ok := e.running[runID]
	e.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("run", runID)
	}
	tracked.markCancelled()
	return nil
}

// CancelAgent terminates every in-flight run of an agent.
func (e *Executor) CancelAgent(agent string) error {
	e.mu.RLock()
	var targets []*run
	for _, r := range e.running {
		if r.agent == agent {
			targets = append(targets, r)
		}
	}
	e.mu.RUnlock()

	if len(targets) == 0 {
		return apperrors.NotFound("running agent", agent)
	}
	for _, r := range targets {
		r.markCancelled()
	}
	return nil
}

// RunningAgents returns the names of agents with in-flight runs.
func (e *Executor) RunningAgents() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]struct{})
	var agents []string
	for _, r := range e.running {
		if _, ok := seen[r.agent]; ok {
			continue
		}
		seen[r.agent] = struct{}{}
		agents = append(agents, r.agent)
	}
	return agents
}

// RunningCount returns the number of in-flight runs.
func (e *Executor) RunningCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.running)
}

func (e *Executor) track(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running[r.runID] = r
}

func (e *Executor) untrack(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, runID)
}

func (e *Executor) serialGate(agent string) *sync.Mutex {
	e.serialMu.Lock()
	defer e.serialMu.Unlock()
	gate, ok := e.serial[agent]
	if !ok {
		gate = &sync.Mutex{}
		e.serial[agent] = gate
	}
	return gate
}

// WriteRunLog persists a RunLog JSON atomically with mode 0600. A partial
// write never leaves a half-formed document at the final name.
func WriteRunLog(path string, runLog *v1.RunLog) error {
	data, err := json.MarshalIndent(runLog, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run log: %w", err)
	}
	return paths.WriteFileAtomic(path, data, 0o600)
}

// ReadRunLog loads a RunLog JSON document.
func ReadRunLog(path string) (*v1.RunLog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var runLog v1.RunLog
	if err := json.Unmarshal(data, &runLog); err != nil {
		return nil, fmt.Errorf("failed to parse run log %s: %w", path, err)
	}
	return &runLog, nil
}
