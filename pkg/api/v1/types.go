// Package v1 defines the wire types shared between the control plane and
// its HTTP/WebSocket clients.
package v1

import "time"

// AgentKind classifies how an agent is dispatched
type AgentKind string

const (
	AgentKindCron        AgentKind = "cron"
	AgentKindEvent       AgentKind = "event"
	AgentKindInteractive AgentKind = "interactive"
)

// RunStatus represents the status of a single agent run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimeout   RunStatus = "timeout"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is final. RunLogs never change once
// they reach a terminal status.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning
}

// CatchUpPolicy controls handling of firings missed across a downtime
type CatchUpPolicy string

const (
	CatchUpSkip    CatchUpPolicy = "skip"
	CatchUpRunOnce CatchUpPolicy = "run-once"
	CatchUpRunAll  CatchUpPolicy = "run-all"
)

// SessionKind classifies a terminal multiplexer session
type SessionKind string

const (
	SessionKindCore           SessionKind = "core"
	SessionKindSpawned        SessionKind = "spawned"
	SessionKindRalph          SessionKind = "ralph"
	SessionKindInfrastructure SessionKind = "infrastructure"
)

// EventKind is the closed enumeration of system event types
type EventKind string

const (
	EventIdeaApproved  EventKind = "idea-approved"
	EventIdeaRejected  EventKind = "idea-rejected"
	EventGitPush       EventKind = "git-push"
	EventFileChanged   EventKind = "file-changed"
	EventAgentFinished EventKind = "agent-finished"
	EventManual        EventKind = "manual"
)

// Guardrails are the restrictions injected into a child's system prompt
// and argv
type Guardrails struct {
	AllowedTools      []string `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	ForbiddenPaths    []string `json:"forbidden_paths,omitempty" yaml:"forbidden_paths,omitempty"`
	MaxFileEdits      int      `json:"max_file_edits,omitempty" yaml:"max_file_edits,omitempty"`
	ExtraSystemPrompt string   `json:"extra_system_prompt,omitempty" yaml:"extra_system_prompt,omitempty"`
}

// EventTrigger is the predicate under which an event-driven agent fires
type EventTrigger struct {
	Kind       EventKind `json:"kind" yaml:"kind"`
	Pattern    string    `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	DebounceMS int       `json:"debounce_ms" yaml:"debounce_ms"`
}

// Agent is a named configuration that, when dispatched, runs an external
// coding-assistant CLI against a prompt
type Agent struct {
	Name             string        `json:"name" yaml:"name"`
	Kind             AgentKind     `json:"kind" yaml:"kind"`
	Model            string        `json:"model" yaml:"model"`
	WorkingDirectory string        `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	CLIProvider      string        `json:"cli_provider,omitempty" yaml:"cli_provider,omitempty"`
	Cron             string        `json:"cron,omitempty" yaml:"cron,omitempty"`
	Timezone         string        `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	CatchupPolicy    CatchUpPolicy `json:"catchup_policy,omitempty" yaml:"catchup_policy,omitempty"`
	EventTrigger     *EventTrigger `json:"event_trigger,omitempty" yaml:"event_trigger,omitempty"`
	Guardrails       Guardrails    `json:"guardrails,omitempty" yaml:"guardrails,omitempty"`
	TimeoutSecs      int           `json:"timeout_secs,omitempty" yaml:"timeout_secs,omitempty"`
	Serial           bool          `json:"serial,omitempty" yaml:"serial,omitempty"`
	Team             string        `json:"team,omitempty" yaml:"-"`
}

// Schedule is a cron-triggered dispatch of an agent. NextRun is derived
// from the expression, never authoritative.
type Schedule struct {
	ID             string     `json:"id" yaml:"id"`
	AgentName      string     `json:"agent_name" yaml:"agent_name"`
	CronExpression string     `json:"cron_expression" yaml:"cron_expression"`
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	Timezone       string     `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty" yaml:"-"`
}

// RunLog is the append-only record of one dispatch
type RunLog struct {
	RunID           string     `json:"run_id"`
	AgentName       string     `json:"agent_name"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Status          RunStatus  `json:"status"`
	DurationSecs    *int       `json:"duration_secs,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	OutputFile      string     `json:"output_file"`
	Error           string     `json:"error,omitempty"`
	CostUSD         *float64   `json:"cost_usd,omitempty"`
	ResumeSessionID string     `json:"resume_session_id,omitempty"`
}

// Session describes a terminal multiplexer session hosting an agent
type Session struct {
	Name        string      `json:"name"`
	Kind        SessionKind `json:"kind"`
	Attached    bool        `json:"attached"`
	WindowTitle string      `json:"window_title,omitempty"`
	Label       string      `json:"label,omitempty"`
}

// Event is a typed system event carried by the bus
type Event struct {
	Kind      EventKind   `json:"kind"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
}

// TerminalOutput is a WebSocket frame carrying one chunk of session output
type TerminalOutput struct {
	Session string `json:"session"`
	Chunk   string `json:"chunk"`
	Seq     uint64 `json:"seq"`
}

// SchedulerHealth aggregates queue depth, recent success rate, and the
// earliest pending firing
type SchedulerHealth struct {
	ArmedSchedules  int        `json:"armed_schedules"`
	RunningAgents   int        `json:"running_agents"`
	RecentRuns      int        `json:"recent_runs"`
	RecentSuccesses int        `json:"recent_successes"`
	SuccessRate     float64    `json:"success_rate"`
	NextPending     *time.Time `json:"next_pending,omitempty"`
}
