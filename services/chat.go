package services

import (
	"context"
	"errors"
	"log"
	"strings"

	"gorm.io/datatypes"

	"portside/llm"
	"portside/models"
	"portside/store"
)

var ErrEmptyMessage = errors.New("message is required")

// ChatRelay bridges one chat turn between a workspace's conversation
// in storage and the language-model provider. Turns for the same
// (workspace, session) pair are serialized so persistence order equals
// arrival order; unrelated conversations run concurrently.
type ChatRelay struct {
	store *store.Store
	llm   llm.Client
	locks *keyedMutex
}

func NewChatRelay(st *store.Store, client llm.Client) *ChatRelay {
	return &ChatRelay{
		store: st,
		llm:   client,
		locks: newKeyedMutex(),
	}
}

// ChatTurns is the result of a non-streaming send: both sides of the
// exchange, already persisted.
type ChatTurns struct {
	UserMessage      *models.ChatMessage `json:"userMessage"`
	AssistantMessage *models.ChatMessage `json:"assistantMessage"`
}

// Event is one unit of a streamed response, in the wire shape clients
// receive.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Send handles a non-streaming turn: persist the user message, await
// the full completion, persist the assistant message. The user turn is
// written before the upstream call so a provider failure never loses
// the question; on failure no assistant turn is written.
func (r *ChatRelay) Send(ctx context.Context, ws *models.Workspace, sessionID, message string, attachments datatypes.JSON) (*ChatTurns, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}
	defer r.locks.Lock(ws.ID.String() + ":" + sessionID)()

	userMsg, err := r.store.AppendChatMessage(ctx, ws.ID, sessionID, models.RoleUser, message, attachments)
	if err != nil {
		return nil, err
	}

	reply, err := r.llm.Complete(ctx, message)
	if err != nil {
		return nil, err
	}

	assistantMsg, err := r.store.AppendChatMessage(ctx, ws.ID, sessionID, models.RoleAssistant, reply, nil)
	if err != nil {
		return nil, err
	}

	return &ChatTurns{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

// SendStream handles a streaming turn. Each upstream chunk is emitted
// as soon as it arrives and appended to an accumulator; on clean
// completion the accumulated text is persisted as the assistant turn.
// A mid-stream provider failure emits a single error event and
// discards the partial text; nothing half-answered is persisted. An
// emit error means the consumer is gone: draining stops and the
// upstream stream is closed.
func (r *ChatRelay) SendStream(ctx context.Context, ws *models.Workspace, sessionID, message string, attachments datatypes.JSON, emit func(Event) error) error {
	if strings.TrimSpace(message) == "" {
		return ErrEmptyMessage
	}
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}
	defer r.locks.Lock(ws.ID.String() + ":" + sessionID)()

	if _, err := r.store.AppendChatMessage(ctx, ws.ID, sessionID, models.RoleUser, message, attachments); err != nil {
		return err
	}

	stream := r.llm.Stream(ctx, message)
	defer stream.Close()

	var acc strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if err := emit(Event{Type: "content", Data: EventData{Content: chunk.Content}}); err != nil {
			return err
		}
		acc.WriteString(chunk.Content)
	}

	if err := stream.Err(); err != nil {
		log.Printf("Chat: stream failed for workspace %s: %v", ws.ExternalID, err)
		return emit(Event{Type: "error", Data: EventData{Error: err.Error()}})
	}

	if acc.Len() > 0 {
		if _, err := r.store.AppendChatMessage(ctx, ws.ID, sessionID, models.RoleAssistant, acc.String(), nil); err != nil {
			return err
		}
	}
	return nil
}

// History returns a session's conversation in order.
func (r *ChatRelay) History(ctx context.Context, ws *models.Workspace, sessionID string) ([]models.ChatMessage, error) {
	if sessionID == "" {
		sessionID = models.DefaultSessionID
	}
	return r.store.ListChatMessages(ctx, ws.ID, sessionID)
}
