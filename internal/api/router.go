package api

import (
	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/auth"
	"github.com/nolan-sh/nolan/internal/common/logger"
)

// NewRouter assembles the REST+WebSocket surface.
func NewRouter(h *Handler, gateway *auth.Gateway, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		Recovery(log),
		RequestLogger(log),
		CORS(),
		AuthMiddleware(gateway),
	)
	SetupRoutes(router, h)
	return router
}

// SetupRoutes registers every API route on the router.
func SetupRoutes(router *gin.Engine, h *Handler) {
	api := router.Group("/api")
	{
		api.GET("/health", h.Health)

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", h.Login)
			authGroup.POST("/logout", h.Logout)
			authGroup.GET("/status", h.AuthStatus)
			authGroup.POST("/setup", h.SetupPassword)
		}

		agents := api.Group("/agents")
		{
			agents.GET("", h.ListAgents)
			agents.POST("", h.CreateAgent)
			agents.GET("/:name", h.GetAgent)
			agents.PUT("/:name", h.UpdateAgent)
			agents.DELETE("/:name", h.DeleteAgent)
			agents.GET("/:name/role", h.GetRole)
			agents.PUT("/:name/role", h.PutRole)
			agents.GET("/:name/instructions", h.GetRole)
			agents.PUT("/:name/instructions", h.PutRole)
			agents.POST("/:name/trigger", h.TriggerAgent)
			agents.POST("/:name/spawn", h.SpawnAgent)
			agents.POST("/:name/cancel", h.CancelAgent)
			agents.POST("/:name/test", h.TestAgent)
			agents.GET("/:name/stats", h.AgentStats)
		}

		templates := api.Group("/templates")
		{
			templates.GET("", h.ListTemplates)
			templates.POST("/:name/install", h.InstallTemplate)
			templates.POST("/:name/uninstall", h.UninstallTemplate)
		}

		teams := api.Group("/teams")
		{
			teams.GET("", h.ListTeams)
			teams.GET("/:name", h.GetTeam)
			teams.PUT("/:name", h.PutTeam)
			teams.DELETE("/:name", h.DeleteTeam)
			teams.POST("/:name/rename/:new", h.RenameTeam)
		}

		schedules := api.Group("/schedules")
		{
			schedules.GET("", h.ListSchedules)
			schedules.POST("", h.CreateSchedule)
			schedules.GET("/:id", h.GetSchedule)
			schedules.PUT("/:id", h.UpdateSchedule)
			schedules.DELETE("/:id", h.DeleteSchedule)
			schedules.POST("/:id/toggle", h.ToggleSchedule)
		}

		schedulerGroup := api.Group("/scheduler")
		{
			schedulerGroup.GET("/health", h.SchedulerHealth)
			schedulerGroup.GET("/running", h.RunningAgents)
		}

		runs := api.Group("/runs")
		{
			runs.GET("", h.ListRuns)
			runs.GET("/:run_id/log", h.GetRunLog)
			runs.POST("/:run_id/relaunch", h.RelaunchRun)
		}

		sessions := api.Group("/sessions")
		{
			sessions.GET("", h.ListSessions)
			sessions.DELETE("/:name", h.KillSession)
			sessions.POST("/:name/input", h.SessionInput)
			sessions.POST("/:name/key", h.SessionKey)
			sessions.POST("/:name/resize", h.SessionResize)
			sessions.PUT("/:name/label", h.SetSessionLabel)
			sessions.DELETE("/:name/label", h.ClearSessionLabel)
		}

		api.POST("/events", h.EmitEvent)
		api.GET("/ws/terminal/:session", h.TerminalStream)
	}
}
