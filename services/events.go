package services

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Events publishes workspace lifecycle changes to Redis pub/sub so
// connected frontends can refresh. Publishing is fire-and-forget and
// fully optional: a nil client disables it.
type Events struct {
	rdb *redis.Client
}

func NewEvents(rdb *redis.Client) *Events {
	return &Events{rdb: rdb}
}

func (e *Events) Publish(ctx context.Context, userID, action, workspaceID string) {
	if e == nil || e.rdb == nil {
		return
	}

	event := map[string]string{
		"type":         "workspace_changed",
		"action":       action,
		"workspace_id": workspaceID,
	}
	data, _ := json.Marshal(event)
	e.rdb.Publish(ctx, "events:user:"+userID, string(data))
}
