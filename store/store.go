package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"portside/models"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence gateway. It owns all durable state and is
// the only component that touches the database handle.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WorkspaceUpdate carries the optional fields of a workspace update.
// Only non-nil fields are written, with column names checked at
// compile time instead of assembled from whatever happens to be set.
type WorkspaceUpdate struct {
	Status    *models.Status
	URL       *string
	EngineID  *string
	StartedAt *time.Time
	StoppedAt *time.Time
}

func (u WorkspaceUpdate) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.URL != nil {
		cols["url"] = *u.URL
	}
	if u.EngineID != nil {
		cols["engine_id"] = *u.EngineID
	}
	if u.StartedAt != nil {
		cols["started_at"] = *u.StartedAt
	}
	if u.StoppedAt != nil {
		cols["stopped_at"] = *u.StoppedAt
	}
	return cols
}

func (s *Store) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if err := s.db.WithContext(ctx).Create(ws).Error; err != nil {
		return fmt.Errorf("failed to create workspace record: %w", err)
	}
	return nil
}

func (s *Store) GetWorkspace(ctx context.Context, externalID string) (*models.Workspace, error) {
	var ws models.Workspace
	err := s.db.WithContext(ctx).
		Preload("Projects").
		Where("external_id = ?", externalID).
		First(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace %s: %w", externalID, err)
	}
	return &ws, nil
}

func (s *Store) UpdateWorkspace(ctx context.Context, externalID string, upd WorkspaceUpdate) error {
	cols := upd.columns()
	if len(cols) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).
		Model(&models.Workspace{}).
		Where("external_id = ?", externalID).
		Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("failed to update workspace %s: %w", externalID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListWorkspaces returns workspaces newest first, optionally filtered
// by owner.
func (s *Store) ListWorkspaces(ctx context.Context, userID string) ([]models.Workspace, error) {
	q := s.db.WithContext(ctx).Preload("Projects").Order("created_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var workspaces []models.Workspace
	if err := q.Find(&workspaces).Error; err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return workspaces, nil
}

// DeleteWorkspace removes the record and everything it owns. Deletes
// run in one transaction so a failure never leaves orphaned messages.
func (s *Store) DeleteWorkspace(ctx context.Context, externalID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ws models.Workspace
		err := tx.Where("external_id = ?", externalID).First(&ws).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load workspace %s: %w", externalID, err)
		}

		if err := tx.Where("workspace_id = ?", ws.ID).Delete(&models.ChatMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat messages: %w", err)
		}
		if err := tx.Where("workspace_id = ?", ws.ID).Delete(&models.Project{}).Error; err != nil {
			return fmt.Errorf("failed to delete projects: %w", err)
		}
		if err := tx.Delete(&ws).Error; err != nil {
			return fmt.Errorf("failed to delete workspace: %w", err)
		}
		return nil
	})
}

// ActivePorts returns the assigned ports of all non-stopped
// workspaces. Used on startup to seed the allocator before any
// request is served.
func (s *Store) ActivePorts(ctx context.Context) ([]int, error) {
	var ports []int
	err := s.db.WithContext(ctx).
		Model(&models.Workspace{}).
		Where("status IN ? AND assigned_port IS NOT NULL", []models.Status{models.StatusCreated, models.StatusRunning}).
		Pluck("assigned_port", &ports).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active ports: %w", err)
	}
	return ports, nil
}

func (s *Store) AppendChatMessage(ctx context.Context, workspaceID uuid.UUID, sessionID, role, content string, attachments datatypes.JSON) (*models.ChatMessage, error) {
	msg := models.ChatMessage{
		WorkspaceID: workspaceID,
		SessionID:   sessionID,
		Role:        role,
		Content:     content,
		Attachments: attachments,
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("failed to save chat message: %w", err)
	}
	return &msg, nil
}

// ListChatMessages returns a session's messages in conversation order
// (creation time ascending).
func (s *Store) ListChatMessages(ctx context.Context, workspaceID uuid.UUID, sessionID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("workspace_id = ? AND session_id = ?", workspaceID, sessionID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}
	return messages, nil
}

// Ping probes storage connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
