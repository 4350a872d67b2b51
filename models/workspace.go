package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Workspace is a provisioned project container. ID is the internal
// storage key; ExternalID is the stable identifier clients hold.
type Workspace struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"-"`
	ExternalID   string         `gorm:"size:255;uniqueIndex;not null" json:"id"`
	Name         string         `gorm:"size:255;not null" json:"name"`
	Status       Status         `gorm:"size:50;not null;default:'created';index" json:"status"`
	ImageName    string         `gorm:"size:255" json:"image_name"`
	EngineID     string         `gorm:"size:255" json:"-"`
	AssignedPort *int           `gorm:"index" json:"assigned_port"`
	URL          string         `json:"url"`
	UserID       string         `gorm:"size:255;index" json:"user_id"`
	Labels       datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"labels"`
	Metadata     datatypes.JSON `gorm:"type:jsonb;default:'{}'" json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at"`
	StoppedAt    *time.Time     `json:"stopped_at"`

	Projects []Project     `gorm:"foreignKey:WorkspaceID;constraint:OnDelete:CASCADE" json:"projects,omitempty"`
	Messages []ChatMessage `gorm:"foreignKey:WorkspaceID;constraint:OnDelete:CASCADE" json:"-"`
}

func (w *Workspace) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.ExternalID == "" {
		w.ExternalID = "ws-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	if w.Labels == nil {
		w.Labels = datatypes.JSON(`{}`)
	}
	if w.Metadata == nil {
		w.Metadata = datatypes.JSON(`{}`)
	}
	return nil
}
