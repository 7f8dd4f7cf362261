package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/auth"
	"github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/common/logger"
	"github.com/nolan-sh/nolan/internal/events"
	"github.com/nolan-sh/nolan/internal/executor"
	"github.com/nolan-sh/nolan/internal/scheduler"
	"github.com/nolan-sh/nolan/internal/session"
)

// Handler contains the HTTP handlers for the control-plane API.
type Handler struct {
	agents     *agent.Store
	scheduler  *scheduler.Scheduler
	executor   *executor.Executor
	supervisor *session.Supervisor
	gateway    *auth.Gateway
	bus        *events.Bus
	version    string
	logger     *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	agents *agent.Store,
	sched *scheduler.Scheduler,
	exec *executor.Executor,
	supervisor *session.Supervisor,
	gateway *auth.Gateway,
	bus *events.Bus,
	version string,
	log *logger.Logger,
) *Handler {
	return &Handler{
		agents:     agents,
		scheduler:  sched,
		executor:   exec,
		supervisor: supervisor,
		gateway:    gateway,
		bus:        bus,
		version:    version,
		logger:     log.WithFields(zap.String("component", "api")),
	}
}

// Health returns liveness.
// GET /api/health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Login verifies the shared password and issues a bearer token.
// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}

	ok, err := h.gateway.VerifyPassword(req.Password)
	if err != nil {
		renderError(c, err)
		return
	}
	if !ok {
		renderError(c, errors.Unauthorized("invalid password"))
		return
	}

	token, err := h.gateway.IssueToken()
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, LoginResponse{SessionToken: token})
}

// Logout invalidates the presented token.
// POST /api/auth/logout
func (h *Handler) Logout(c *gin.Context) {
	if token := ExtractToken(c.Request); token != "" {
		h.gateway.RevokeToken(token)
	}
	c.Status(http.StatusOK)
}

// AuthStatus reports the gateway's state. The endpoint is auth-exempt, so
// authenticated reflects whether the presented token (if any) is valid.
// GET /api/auth/status
func (h *Handler) AuthStatus(c *gin.Context) {
	token := ExtractToken(c.Request)
	c.JSON(http.StatusOK, AuthStatusResponse{
		Authenticated:      token != "" && h.gateway.ValidateToken(token),
		AuthRequired:       h.gateway.AuthRequired(),
		PasswordConfigured: h.gateway.PasswordConfigured(),
	})
}

// SetupPassword performs first-run password setup.
// POST /api/auth/setup
func (h *Handler) SetupPassword(c *gin.Context) {
	var req SetupPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	if err := h.gateway.SetupPassword(req.Password); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// EmitEvent publishes an event onto the bus.
// POST /api/events
func (h *Handler) EmitEvent(c *gin.Context) {
	var req EmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	h.bus.Emit(req.Kind, req.Payload, "api")
	c.JSON(http.StatusAccepted, gin.H{"published": true})
}
