package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"nudge/src/internal/engine"
	"nudge/src/internal/gateway"
)

// wsConn serializes writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// handleWebsocket streams the owner's reminder views after every change and
// every alert as it fires. Clients may also send {"prompt": "..."} frames to
// chat; progress and answers come back on the same socket.
func (s *Server) handleWebsocket(c *gin.Context) {
	gw := c.MustGet("gateway").(*gateway.Gateway)
	owner := ownerOf(c)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if _, ok := c.Get("nudge_ws_key"); ok {
		// Echo the subprotocols the key was passed in so the handshake succeeds
		if requested := c.GetHeader("Sec-WebSocket-Protocol"); requested != "" {
			parts := strings.Split(requested, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			upgrader.Subprotocols = parts
		}
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	conn := &wsConn{ws: ws}
	slog.Info("stream client connected", "owner", owner)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	views, err := gw.Reminders.Watch(ctx, owner)
	if err != nil {
		conn.send(gin.H{"type": "error", "error": err.Error()})
		return
	}
	alerts, unsubscribe := gw.SubscribeAlerts(owner)
	defer unsubscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-views:
				if !ok {
					return
				}
				if err := conn.send(gin.H{"type": "views", "views": v}); err != nil {
					return
				}
			case a, ok := <-alerts:
				if !ok {
					return
				}
				if err := conn.send(gin.H{"type": "alert", "alert": a, "text": gateway.FormatAlert(a)}); err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg struct {
			Prompt string `json:"prompt"`
		}
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		if strings.TrimSpace(msg.Prompt) == "" {
			continue
		}
		progress := func(note string) {
			conn.send(gin.H{"type": "progress", "text": note})
		}
		res, err := gw.PrimaryAgent.DelegatePrompt(ctx, owner, msg.Prompt, progress)
		if res == nil {
			conn.send(gin.H{"type": "error", "error": errText(err)})
			continue
		}
		out := gin.H{
			"type":          "response",
			"response":      res.Answer,
			"iterations":    res.Iterations,
			"tool_calls":    res.ToolCalls,
			"iteration_cap": errors.Is(err, engine.ErrIterationCap),
		}
		if errors.Is(err, engine.ErrBackend) {
			out["error"] = err.Error()
		}
		if err := conn.send(out); err != nil {
			break
		}
	}
	slog.Info("stream client disconnected", "owner", owner)
}
