package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"portside/models"
	"portside/services"
)

// WSChatHandler is the WebSocket chat transport. It drives the same
// relay as the SSE route; only the framing differs.
type WSChatHandler struct {
	relay     *services.ChatRelay
	lifecycle *services.Lifecycle
	upgrader  websocket.Upgrader
}

func NewWSChatHandler(relay *services.ChatRelay, lifecycle *services.Lifecycle, corsOrigin string) *WSChatHandler {
	return &WSChatHandler{
		relay:     relay,
		lifecycle: lifecycle,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if corsOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == corsOrigin
			},
		},
	}
}

type wsInbound struct {
	Type      string `json:"type"` // "message" | "cancel"
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

type wsOutbound struct {
	Type    string              `json:"type"` // "stream" | "complete" | "error"
	Data    *services.EventData `json:"data,omitempty"`
	Message string              `json:"message,omitempty"`
}

func (h *WSChatHandler) HandleWebSocket(c *gin.Context) {
	ws, err := h.lifecycle.Get(c.Request.Context(), c.Param("workspaceId"))
	if err != nil {
		c.JSON(lifecycleStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// writeMu keeps turn goroutines from interleaving frames.
	var writeMu sync.Mutex
	send := func(out wsOutbound) error {
		data, _ := json.Marshal(out)
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	// cancel aborts the in-flight turn, if any.
	var cancelMu sync.Mutex
	var cancel context.CancelFunc
	defer func() {
		cancelMu.Lock()
		if cancel != nil {
			cancel()
		}
		cancelMu.Unlock()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			send(wsOutbound{Type: "error", Message: "Invalid message format"})
			continue
		}

		switch msg.Type {
		case "message":
			ctx, cancelTurn := context.WithCancel(context.Background())
			cancelMu.Lock()
			if cancel != nil {
				cancel()
			}
			cancel = cancelTurn
			cancelMu.Unlock()

			go h.runTurn(ctx, ws, msg, send)
		case "cancel":
			cancelMu.Lock()
			if cancel != nil {
				cancel()
			}
			cancelMu.Unlock()
		default:
			send(wsOutbound{Type: "error", Message: "Unknown message type"})
		}
	}
}

func (h *WSChatHandler) runTurn(ctx context.Context, ws *models.Workspace, msg wsInbound, send func(wsOutbound) error) {
	emit := func(ev services.Event) error {
		if ev.Type == "error" {
			return send(wsOutbound{Type: "error", Message: ev.Data.Error})
		}
		data := ev.Data
		return send(wsOutbound{Type: "stream", Data: &data})
	}

	err := h.relay.SendStream(ctx, ws, msg.SessionID, msg.Content, nil, emit)
	if err != nil {
		send(wsOutbound{Type: "error", Message: err.Error()})
		return
	}
	send(wsOutbound{Type: "complete"})
}
