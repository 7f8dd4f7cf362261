package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nolan-sh/nolan/internal/common/errors"
	"github.com/nolan-sh/nolan/internal/session"
)

// ListSessions returns every live session with kind and label.
// GET /api/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.supervisor.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionsResponse{Sessions: sessions, Total: len(sessions)})
}

// KillSession destroys a session. Infrastructure sessions are refused.
// DELETE /api/sessions/:name
func (h *Handler) KillSession(c *gin.Context) {
	if err := h.supervisor.Kill(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// SessionInput dispatches input to an interactive session.
// POST /api/sessions/:name/input
func (h *Handler) SessionInput(c *gin.Context) {
	var req SessionInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}

	mode := session.InputMode(req.Mode)
	if err := h.supervisor.SendInput(c.Request.Context(), c.Param("name"), req.Data, mode); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// SessionKey sends one named key press.
// POST /api/sessions/:name/key
func (h *Handler) SessionKey(c *gin.Context) {
	var req SessionKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	if err := h.supervisor.SendInput(c.Request.Context(), c.Param("name"), req.Key, session.InputKey); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// SessionResize resizes a session's window.
// POST /api/sessions/:name/resize
func (h *Handler) SessionResize(c *gin.Context) {
	var req SessionResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	if err := h.supervisor.Resize(c.Request.Context(), c.Param("name"), req.Cols, req.Rows); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// SetSessionLabel assigns a display label to a ralph session.
// PUT /api/sessions/:name/label
func (h *Handler) SetSessionLabel(c *gin.Context) {
	var req SessionLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, errors.Invalid("invalid request body: "+err.Error()))
		return
	}
	if err := h.supervisor.SetLabel(c.Request.Context(), c.Param("name"), req.Label); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": c.Param("name"), "label": req.Label})
}

// ClearSessionLabel removes a session's label.
// DELETE /api/sessions/:name/label
func (h *Handler) ClearSessionLabel(c *gin.Context) {
	if err := h.supervisor.ClearLabel(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
