package api

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/executor"
)

// ListSchedules returns every schedule with derived next_run times.
// GET /api/schedules
func (h *Handler) ListSchedules(c *gin.Context) {
	schedules := h.scheduler.ListSchedules(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"schedules": schedules, "total": len(schedules)})
}

// GetSchedule returns one schedule.
// GET /api/schedules/:id
func (h *Handler) GetSchedule(c *gin.Context) {
	schedule, err := h.scheduler.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// CreateSchedule validates and arms a new schedule.
// POST /api/schedules
func (h *Handler) CreateSchedule(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	schedule, err := h.scheduler.CreateSchedule(c.Request.Context(), req.AgentName, req.CronExpression, req.Timezone, enabled)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, schedule)
}

// UpdateSchedule rewrites a schedule.
// PUT /api/schedules/:id
func (h *Handler) UpdateSchedule(c *gin.Context) {
	var req UpdateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	schedule, err := h.scheduler.UpdateSchedule(c.Request.Context(), c.Param("id"), req.CronExpression, req.Timezone, enabled)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// DeleteSchedule disarms and removes a schedule.
// DELETE /api/schedules/:id
func (h *Handler) DeleteSchedule(c *gin.Context) {
	if err := h.scheduler.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ToggleSchedule arms or disarms a schedule.
// POST /api/schedules/:id/toggle
func (h *Handler) ToggleSchedule(c *gin.Context) {
	var req ToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	schedule, err := h.scheduler.Toggle(c.Request.Context(), c.Param("id"), req.Enabled)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

// SchedulerHealth aggregates queue depth, recent success rate, and the
// earliest pending firing.
// GET /api/scheduler/health
func (h *Handler) SchedulerHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Health(c.Request.Context()))
}

// RunningAgents lists agents with in-flight runs.
// GET /api/scheduler/running
func (h *Handler) RunningAgents(c *gin.Context) {
	agents := h.scheduler.RunningAgents()
	if agents == nil {
		agents = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"running": agents})
}

// ListRuns returns run history.
// GET /api/runs?agent=&limit=
func (h *Handler) ListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			renderError(c, errors.Invalid("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	runs, err := h.scheduler.ListRuns(c.Request.Context(), c.Query("agent"), limit)
	if err != nil {
		renderError(c, errors.InternalError("failed to list runs", err))
		return
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs, Total: len(runs)})
}

// GetRunLog returns the captured stdout of one run.
// GET /api/runs/:run_id/log
func (h *Handler) GetRunLog(c *gin.Context) {
	runLog, err := h.scheduler.GetRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		renderError(c, err)
		return
	}

	data, err := os.ReadFile(runLog.OutputFile)
	if err != nil {
		if os.IsNotExist(err) {
			renderError(c, errors.NotFound("run log file", runLog.OutputFile))
			return
		}
		renderError(c, errors.InternalError("failed to read run log", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": runLog, "log": string(data)})
}

// RelaunchRun resumes a finished run's provider session with a follow-up
// prompt.
// POST /api/runs/:run_id/relaunch
func (h *Handler) RelaunchRun(c *gin.Context) {
	var req RelaunchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}

	runLog, err := h.scheduler.GetRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		renderError(c, err)
		return
	}
	if runLog.ResumeSessionID == "" {
		renderError(c, errors.Invalid("run has no resume session id"))
		return
	}

	h.scheduler.TriggerAsync(c.Request.Context(), runLog.AgentName, executor.Options{
		PromptOverride: req.FollowUpPrompt,
		Resume:         true,
		SessionID:      runLog.ResumeSessionID,
	})
	c.JSON(http.StatusAccepted, gin.H{"relaunched": runLog.AgentName})
}
