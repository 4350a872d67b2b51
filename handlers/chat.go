package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"portside/models"
	"portside/services"
)

type ChatHandler struct {
	relay     *services.ChatRelay
	lifecycle *services.Lifecycle
}

func NewChatHandler(relay *services.ChatRelay, lifecycle *services.Lifecycle) *ChatHandler {
	return &ChatHandler{relay: relay, lifecycle: lifecycle}
}

type sendMessageRequest struct {
	Message     string         `json:"message"`
	Attachments datatypes.JSON `json:"attachments"`
	Stream      bool           `json:"stream"`
}

// SendMessage handles one chat turn, streamed or not, for the
// workspace in the path. The session comes from the session-id header
// and defaults to the documented sentinel.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Message is required"})
		return
	}

	sessionID := sessionIDFrom(c)

	ws, err := h.lifecycle.Get(c.Request.Context(), c.Param("workspaceId"))
	if err != nil {
		c.JSON(lifecycleStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	if !req.Stream {
		turns, err := h.relay.Send(c.Request.Context(), ws, sessionID, req.Message, req.Attachments)
		if err != nil {
			c.JSON(chatStatus(err), gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"userMessage":      turns.UserMessage,
			"assistantMessage": turns.AssistantMessage,
		})
		return
	}

	h.streamMessage(c, ws, sessionID, &req)
}

func (h *ChatHandler) streamMessage(c *gin.Context, ws *models.Workspace, sessionID string, req *sendMessageRequest) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	emit := func(ev services.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	err := h.relay.SendStream(c.Request.Context(), ws, sessionID, req.Message, req.Attachments, emit)
	if err != nil {
		// Upstream failures were already emitted by the relay; this is
		// a persistence failure or a vanished consumer. Either way the
		// stream is over; report and terminate.
		emit(services.Event{Type: "error", Data: services.EventData{Error: err.Error()}})
	}

	// Terminator is sent on every outcome, error included.
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// History returns the session's messages in conversation order.
func (h *ChatHandler) History(c *gin.Context) {
	sessionID := sessionIDFrom(c)

	ws, err := h.lifecycle.Get(c.Request.Context(), c.Param("workspaceId"))
	if err != nil {
		c.JSON(lifecycleStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	messages, err := h.relay.History(c.Request.Context(), ws, sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		out = append(out, gin.H{
			"id":          msg.ID,
			"role":        msg.Role,
			"content":     msg.Content,
			"attachments": msg.Attachments,
			"timestamp":   msg.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"messages":  out,
		"sessionId": sessionID,
	})
}

func sessionIDFrom(c *gin.Context) string {
	if id := c.GetHeader("session-id"); id != "" {
		return id
	}
	return models.DefaultSessionID
}

func chatStatus(err error) int {
	if errors.Is(err, services.ErrEmptyMessage) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
