package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultSessionID scopes chat turns when the caller sends no
// session-id header. Part of the API contract, not a fallback
// invented at the call site.
const DefaultSessionID = "default"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID      `gorm:"type:uuid;not null;index" json:"-"`
	SessionID   string         `gorm:"size:255;not null;index" json:"session_id"`
	Role        string         `gorm:"size:20;not null" json:"role"`
	Content     string         `gorm:"type:text;not null" json:"content"`
	Attachments datatypes.JSON `gorm:"type:jsonb;default:'[]'" json:"attachments"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`

	Workspace Workspace `gorm:"foreignKey:WorkspaceID" json:"-"`
}

func (m *ChatMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.SessionID == "" {
		m.SessionID = DefaultSessionID
	}
	if m.Attachments == nil {
		m.Attachments = datatypes.JSON(`[]`)
	}
	return nil
}
