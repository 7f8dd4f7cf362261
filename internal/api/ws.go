package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/session"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is token-gated; origins are the frontend's concern
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClientMessage is what a terminal client may push.
type wsClientMessage struct {
	Kind string `json:"kind"` // input, key, resize
	Data string `json:"data,omitempty"`
	Key  string `json:"key,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// TerminalStream bridges one session's output broadcast to a WebSocket
// and routes client input back through the supervisor.
// GET /api/ws/terminal/:session
func (h *Handler) TerminalStream(c *gin.Context) {
	name := c.Param("session")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("session", name),
			zap.Error(err))
		return
	}

	// Session output (interactive panes) is published under the session
	// name; headless run stdout is published under the bare agent name.
	// Subscribe to both so one terminal endpoint covers either source.
	lines, cancel := h.executor.Broadcaster().Subscribe(name)
	defer cancel()
	var agentLines <-chan string
	if agent := agentOfSession(name); agent != name {
		ch, cancelAgent := h.executor.Broadcaster().Subscribe(agent)
		defer cancelAgent()
		agentLines = ch
	}

	done := make(chan struct{})

	// Read pump: client input, keys, and resizes.
	go func() {
		defer close(done)
		defer conn.Close()

		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Warn("websocket read error",
						zap.String("session", name),
						zap.Error(err))
				}
				return
			}

			var msg wsClientMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				h.logger.Warn("invalid terminal message", zap.Error(err))
				continue
			}

			ctx := c.Request.Context()
			switch msg.Kind {
			case "input":
				if err := h.supervisor.SendInput(ctx, name, msg.Data, session.InputRaw); err != nil {
					h.logger.Warn("terminal input failed", zap.Error(err))
				}
			case "key":
				if err := h.supervisor.SendInput(ctx, name, msg.Key, session.InputKey); err != nil {
					h.logger.Warn("terminal key failed", zap.Error(err))
				}
			case "resize":
				if err := h.supervisor.Resize(ctx, name, msg.Cols, msg.Rows); err != nil {
					h.logger.Warn("terminal resize failed", zap.Error(err))
				}
			default:
				h.logger.Warn("unknown terminal message kind", zap.String("kind", msg.Kind))
			}
		}
	}()

	// Write pump: output frames and keepalive pings.
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	var seq uint64
	writeLine := func(line string, ok bool) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if !ok {
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return false
		}
		seq++
		frame := v1.TerminalOutput{Session: name, Chunk: line + "\n", Seq: seq}
		return conn.WriteJSON(frame) == nil
	}

	for {
		select {
		case <-done:
			return
		case line, ok := <-lines:
			if !writeLine(line, ok) {
				return
			}
		case line, ok := <-agentLines:
			if !writeLine(line, ok) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// agentOfSession maps a session name to its agent identifier: agent-ana
// and agent-ana-2 both belong to ana. Non-session names map to
// themselves.
func agentOfSession(name string) string {
	if !strings.HasPrefix(name, "agent-") {
		return name
	}
	rest := strings.TrimPrefix(name, "agent-")
	if idx := strings.Index(rest, "-"); idx > 0 {
		return rest[:idx]
	}
	return rest
}
