package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/executor"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// ListAgents returns every shared and team-scoped agent.
// GET /api/agents
func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.agents.ListAgents(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, AgentsResponse{Agents: agents, Total: len(agents)})
}

// GetAgent returns one agent.
// GET /api/agents/:name
func (h *Handler) GetAgent(c *gin.Context) {
	a, err := h.agents.GetAgent(c.Request.Context(), c.Param("name"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// CreateAgent writes a new agent definition.
// POST /api/agents
func (h *Handler) CreateAgent(c *gin.Context) {
	var a v1.Agent
	if err := c.ShouldBindJSON(&a); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	if err := h.agents.CreateAgent(c.Request.Context(), a); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// UpdateAgent rewrites an agent definition.
// PUT /api/agents/:name
func (h *Handler) UpdateAgent(c *gin.Context) {
	var a v1.Agent
	if err := c.ShouldBindJSON(&a); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	a.Name = c.Param("name")
	if err := h.agents.UpdateAgent(c.Request.Context(), a); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// DeleteAgent removes an agent definition.
// DELETE /api/agents/:name
func (h *Handler) DeleteAgent(c *gin.Context) {
	if err := h.agents.DeleteAgent(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// GetRole returns the agent's prompt body (its role).
// GET /api/agents/:name/role
func (h *Handler) GetRole(c *gin.Context) {
	content, err := h.agents.ReadInstructions(c.Request.Context(), c.Param("name"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content})
}

// PutRole replaces the agent's prompt body.
// PUT /api/agents/:name/role
func (h *Handler) PutRole(c *gin.Context) {
	var req InstructionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	if err := h.agents.WriteInstructions(c.Request.Context(), c.Param("name"), req.Content); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// TriggerAgent dispatches an agent now. Cron and event agents fire
// through the ad-hoc headless path; interactive agents are hosted in a
// supervisor session and the session name is returned.
// POST /api/agents/:name/trigger
func (h *Handler) TriggerAgent(c *gin.Context) {
	name := c.Param("name")
	a, err := h.agents.GetAgent(c.Request.Context(), name)
	if err != nil {
		renderError(c, err)
		return
	}

	if a.Kind == v1.AgentKindInteractive {
		sessionName, err := h.scheduler.StartInteractive(c.Request.Context(), name)
		if err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"session": sessionName})
		return
	}

	h.scheduler.TriggerAsync(c.Request.Context(), name, executor.Options{})
	c.JSON(http.StatusAccepted, gin.H{"triggered": name})
}

// SpawnAgent hosts an additional instance of an interactive agent in a
// fresh spawned session, optionally labelled.
// POST /api/agents/:name/spawn
func (h *Handler) SpawnAgent(c *gin.Context) {
	var req SpawnAgentRequest
	// The body is optional; an empty one spawns an unlabelled instance.
	_ = c.ShouldBindJSON(&req)

	sessionName, err := h.scheduler.SpawnInstance(c.Request.Context(), c.Param("name"), req.Label)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sessionName})
}

// CancelAgent cancels an agent's in-flight runs.
// POST /api/agents/:name/cancel
func (h *Handler) CancelAgent(c *gin.Context) {
	if err := h.scheduler.CancelRun(c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": c.Param("name")})
}

// TestAgent compiles the agent's command without spawning it.
// POST /api/agents/:name/test
func (h *Handler) TestAgent(c *gin.Context) {
	a, err := h.agents.GetAgent(c.Request.Context(), c.Param("name"))
	if err != nil {
		renderError(c, err)
		return
	}
	args, err := h.executor.CompileArgs(c.Request.Context(), a, executor.Options{})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"argv": args})
}

// AgentStats aggregates an agent's run history.
// GET /api/agents/:name/stats
func (h *Handler) AgentStats(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.agents.GetAgent(c.Request.Context(), name); err != nil {
		renderError(c, err)
		return
	}
	stats, err := h.scheduler.History().Stats(c.Request.Context(), name)
	if err != nil {
		renderError(c, errors.InternalError("failed to aggregate stats", err))
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListTemplates returns the predefined templates with install state.
// GET /api/templates
func (h *Handler) ListTemplates(c *gin.Context) {
	templates := h.agents.ListTemplates(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"templates": templates, "total": len(templates)})
}

// InstallTemplate materialises a template as an agent.
// POST /api/templates/:name/install
func (h *Handler) InstallTemplate(c *gin.Context) {
	if err := h.agents.InstallTemplate(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// UninstallTemplate removes an installed template's agent.
// POST /api/templates/:name/uninstall
func (h *Handler) UninstallTemplate(c *gin.Context) {
	if err := h.agents.UninstallTemplate(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// ListTeams returns every team.
// GET /api/teams
func (h *Handler) ListTeams(c *gin.Context) {
	teams, err := h.agents.ListTeams(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"teams": teams, "total": len(teams)})
}

// GetTeam returns one team.
// GET /api/teams/:name
func (h *Handler) GetTeam(c *gin.Context) {
	team, err := h.agents.GetTeam(c.Request.Context(), c.Param("name"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

// PutTeam writes a team definition.
// PUT /api/teams/:name
func (h *Handler) PutTeam(c *gin.Context) {
	var team agent.Team
	if err := c.ShouldBindJSON(&team); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	team.Name = c.Param("name")
	if err := h.agents.PutTeam(c.Request.Context(), team); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

// DeleteTeam removes a team and its scoped agents.
// DELETE /api/teams/:name
func (h *Handler) DeleteTeam(c *gin.Context) {
	if err := h.agents.DeleteTeam(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// RenameTeam moves a team to a new name.
// POST /api/teams/:name/rename/:new
func (h *Handler) RenameTeam(c *gin.Context) {
	if err := h.agents.RenameTeam(c.Request.Context(), c.Param("name"), c.Param("new")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"renamed": c.Param("new")})
}
