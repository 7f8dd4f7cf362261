package api

import v1 "github.com/nolan-sh/nolan/pkg/api/v1"

// LoginRequest carries the shared password.
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// LoginResponse returns a freshly issued bearer token.
type LoginResponse struct {
	SessionToken string `json:"session_token"`
}

// SetupPasswordRequest carries the first-run password.
type SetupPasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// AuthStatusResponse describes the gateway's state.
type AuthStatusResponse struct {
	Authenticated      bool `json:"authenticated"`
	AuthRequired       bool `json:"auth_required"`
	PasswordConfigured bool `json:"password_configured"`
}

// CreateScheduleRequest creates or replaces a schedule.
type CreateScheduleRequest struct {
	AgentName      string `json:"agent_name" binding:"required"`
	CronExpression string `json:"cron_expression" binding:"required"`
	Timezone       string `json:"timezone,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

// UpdateScheduleRequest rewrites a schedule.
type UpdateScheduleRequest struct {
	CronExpression string `json:"cron_expression" binding:"required"`
	Timezone       string `json:"timezone,omitempty"`
	Enabled        *bool  `json:"enabled,omitempty"`
}

// ToggleRequest arms or disarms a schedule.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// SessionInputRequest carries terminal input for a session.
type SessionInputRequest struct {
	Data string `json:"data" binding:"required"`
	Mode string `json:"mode,omitempty"` // literal (default), key, raw
}

// SessionKeyRequest carries one named key press.
type SessionKeyRequest struct {
	Key string `json:"key" binding:"required"`
}

// SessionResizeRequest resizes a session's window.
type SessionResizeRequest struct {
	Cols int `json:"cols" binding:"required"`
	Rows int `json:"rows" binding:"required"`
}

// SessionLabelRequest assigns a display label to a ralph session.
type SessionLabelRequest struct {
	Label string `json:"label" binding:"required"`
}

// InstructionsRequest replaces an agent's prompt body.
type InstructionsRequest struct {
	Content string `json:"content"`
}

// SpawnAgentRequest spawns an additional interactive instance.
type SpawnAgentRequest struct {
	Label string `json:"label,omitempty"`
}

// RelaunchRequest resumes a finished run with a follow-up prompt.
type RelaunchRequest struct {
	FollowUpPrompt string `json:"follow_up_prompt" binding:"required"`
}

// EmitEventRequest publishes an event onto the bus.
type EmitEventRequest struct {
	Kind    v1.EventKind `json:"kind" binding:"required"`
	Payload interface{}  `json:"payload,omitempty"`
}

// RunsResponse lists run history.
type RunsResponse struct {
	Runs  []*v1.RunLog `json:"runs"`
	Total int          `json:"total"`
}

// AgentsResponse lists agents.
type AgentsResponse struct {
	Agents []v1.Agent `json:"agents"`
	Total  int        `json:"total"`
}

// SessionsResponse lists sessions.
type SessionsResponse struct {
	Sessions []v1.Session `json:"sessions"`
	Total    int          `json:"total"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
