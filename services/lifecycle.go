package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"portside/engine"
	"portside/models"
	"portside/store"
)

var (
	ErrNotFound          = errors.New("workspace not found")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// Lifecycle drives workspaces through created → running → stopped.
// Operations on the same workspace id are serialized by a keyed mutex;
// the allocator is the only cross-workspace serialization point.
type Lifecycle struct {
	store  *store.Store
	ports  *PortAllocator
	engine engine.Engine
	events *Events
	image  string
	locks  *keyedMutex
}

func NewLifecycle(st *store.Store, ports *PortAllocator, eng engine.Engine, events *Events, defaultImage string) *Lifecycle {
	return &Lifecycle{
		store:  st,
		ports:  ports,
		engine: eng,
		events: events,
		image:  defaultImage,
		locks:  newKeyedMutex(),
	}
}

type CreateWorkspaceRequest struct {
	Name     string
	Image    string
	UserID   string
	Labels   map[string]string
	Metadata map[string]any
	Project  *ProjectSpec
}

type ProjectSpec struct {
	Name        string
	Description string
	Type        string
}

// Recover seeds the port allocator from persisted non-stopped records.
// Must run before the first request is served, otherwise a restart
// could hand out a port an existing container still holds.
func (l *Lifecycle) Recover(ctx context.Context) error {
	ports, err := l.store.ActivePorts(ctx)
	if err != nil {
		return err
	}
	for _, port := range ports {
		if err := l.ports.Reserve(port); err != nil {
			log.Printf("Lifecycle: cannot reserve recovered port: %v", err)
		}
	}
	if len(ports) > 0 {
		log.Printf("Lifecycle: recovered %d reserved ports", len(ports))
	}
	return nil
}

// Create allocates a port, instantiates the container, and persists
// the record in `created`. An engine failure releases the port before
// the error is surfaced and leaves an `error` record behind so the
// attempt stays visible.
func (l *Lifecycle) Create(ctx context.Context, req CreateWorkspaceRequest) (*models.Workspace, error) {
	port, err := l.ports.Allocate()
	if err != nil {
		return nil, err
	}

	image := req.Image
	if image == "" {
		image = l.image
	}

	ws := &models.Workspace{
		Name:      req.Name,
		Status:    models.StatusCreated,
		ImageName: image,
		UserID:    req.UserID,
	}
	if len(req.Labels) > 0 {
		data, err := json.Marshal(req.Labels)
		if err != nil {
			l.ports.Release(port)
			return nil, fmt.Errorf("invalid labels: %w", err)
		}
		ws.Labels = datatypes.JSON(data)
	}
	if len(req.Metadata) > 0 {
		data, err := json.Marshal(req.Metadata)
		if err != nil {
			l.ports.Release(port)
			return nil, fmt.Errorf("invalid metadata: %w", err)
		}
		ws.Metadata = datatypes.JSON(data)
	}
	if req.Project != nil {
		ws.Projects = []models.Project{{
			Name:        req.Project.Name,
			Description: req.Project.Description,
			Type:        req.Project.Type,
		}}
	}

	// Generate the external id up front so the engine-side name is
	// stable whether or not instantiation succeeds.
	ws.ExternalID = newWorkspaceID()

	handle, err := l.engine.Create(ctx, engine.Spec{
		Name:  "workspace-" + ws.ExternalID,
		Image: image,
		Port:  port,
		Labels: map[string]string{
			"portside.workspace": ws.ExternalID,
		},
	})
	if err != nil {
		l.ports.Release(port)
		ws.Status = models.StatusError
		if perr := l.store.CreateWorkspace(ctx, ws); perr != nil {
			log.Printf("Lifecycle: failed to record errored workspace %s: %v", ws.ExternalID, perr)
		}
		return nil, fmt.Errorf("engine failed to create workspace: %w", err)
	}

	ws.EngineID = handle
	ws.AssignedPort = &port
	if err := l.store.CreateWorkspace(ctx, ws); err != nil {
		// Storage is the source of truth; reclaim what the engine
		// built rather than leaving an untracked container around.
		if rerr := l.engine.Remove(ctx, handle); rerr != nil {
			log.Printf("Lifecycle: failed to remove orphaned container %s: %v", ws.ExternalID, rerr)
		}
		l.ports.Release(port)
		return nil, err
	}

	l.events.Publish(ctx, ws.UserID, "created", ws.ExternalID)
	log.Printf("Lifecycle: created workspace %s on port %d", ws.ExternalID, port)
	return ws, nil
}

// Start transitions created → running and records the reachable URL.
func (l *Lifecycle) Start(ctx context.Context, id string) (*models.Workspace, error) {
	defer l.locks.Lock(id)()

	ws, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ws.Status.CanTransition(models.StatusRunning) {
		return nil, fmt.Errorf("%w: cannot start workspace in state %q", ErrInvalidTransition, ws.Status)
	}

	if err := l.engine.Start(ctx, ws.EngineID); err != nil {
		l.markError(ctx, ws)
		return nil, fmt.Errorf("engine failed to start workspace: %w", err)
	}

	now := time.Now()
	status := models.StatusRunning
	url := ""
	if ws.AssignedPort != nil {
		url = fmt.Sprintf("http://localhost:%d", *ws.AssignedPort)
	}
	upd := store.WorkspaceUpdate{Status: &status, URL: &url, StartedAt: &now}
	if err := l.store.UpdateWorkspace(ctx, id, upd); err != nil {
		return nil, err
	}

	ws.Status = status
	ws.URL = url
	ws.StartedAt = &now
	l.events.Publish(ctx, ws.UserID, "started", ws.ExternalID)
	return ws, nil
}

// Stop transitions to stopped and releases the port. Engine teardown
// failures are reported as a warning, not an error: a stuck port is
// worse than a stale engine handle.
func (l *Lifecycle) Stop(ctx context.Context, id string) (*models.Workspace, string, error) {
	defer l.locks.Lock(id)()
	return l.stopLocked(ctx, id)
}

func (l *Lifecycle) stopLocked(ctx context.Context, id string) (*models.Workspace, string, error) {
	ws, err := l.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if !ws.Status.CanTransition(models.StatusStopped) {
		return nil, "", fmt.Errorf("%w: cannot stop workspace in state %q", ErrInvalidTransition, ws.Status)
	}

	warning := ""
	if ws.EngineID != "" {
		if err := l.engine.Stop(ctx, ws.EngineID); err != nil {
			warning = fmt.Sprintf("engine teardown failed: %v", err)
			log.Printf("Lifecycle: %s (workspace %s)", warning, id)
		}
	}

	now := time.Now()
	status := models.StatusStopped
	upd := store.WorkspaceUpdate{Status: &status, StoppedAt: &now}
	if err := l.store.UpdateWorkspace(ctx, id, upd); err != nil {
		return nil, warning, err
	}

	// Release only after the record says stopped, so a crash in
	// between cannot produce two non-stopped workspaces on one port.
	if ws.AssignedPort != nil {
		l.ports.Release(*ws.AssignedPort)
	}

	ws.Status = status
	ws.StoppedAt = &now
	l.events.Publish(ctx, ws.UserID, "stopped", ws.ExternalID)
	log.Printf("Lifecycle: stopped workspace %s", id)
	return ws, warning, nil
}

// Delete stops the workspace if needed, removes the engine container,
// and deletes the record (cascading chat messages and projects).
func (l *Lifecycle) Delete(ctx context.Context, id string) (string, error) {
	defer l.locks.Lock(id)()

	ws, err := l.load(ctx, id)
	if err != nil {
		return "", err
	}

	warning := ""
	if !ws.Status.Terminal() {
		ws, warning, err = l.stopLocked(ctx, id)
		if err != nil {
			return warning, err
		}
	}

	if ws.EngineID != "" {
		if err := l.engine.Remove(ctx, ws.EngineID); err != nil {
			if warning != "" {
				warning += "; "
			}
			warning += fmt.Sprintf("engine removal failed: %v", err)
			log.Printf("Lifecycle: engine removal failed for %s: %v", id, err)
		}
	}

	if err := l.store.DeleteWorkspace(ctx, id); err != nil {
		return warning, err
	}

	// stopLocked released the port for live workspaces; an errored
	// record keeps its reservation until the record itself is gone.
	if ws.Status == models.StatusError && ws.AssignedPort != nil {
		l.ports.Release(*ws.AssignedPort)
	}

	l.events.Publish(ctx, ws.UserID, "deleted", ws.ExternalID)
	log.Printf("Lifecycle: deleted workspace %s", id)
	return warning, nil
}

func (l *Lifecycle) List(ctx context.Context, userID string) ([]models.Workspace, error) {
	return l.store.ListWorkspaces(ctx, userID)
}

func (l *Lifecycle) Get(ctx context.Context, id string) (*models.Workspace, error) {
	return l.load(ctx, id)
}

func (l *Lifecycle) load(ctx context.Context, id string) (*models.Workspace, error) {
	ws, err := l.store.GetWorkspace(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return ws, err
}

func newWorkspaceID() string {
	return "ws-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (l *Lifecycle) markError(ctx context.Context, ws *models.Workspace) {
	status := models.StatusError
	if err := l.store.UpdateWorkspace(ctx, ws.ExternalID, store.WorkspaceUpdate{Status: &status}); err != nil {
		log.Printf("Lifecycle: failed to mark workspace %s as errored: %v", ws.ExternalID, err)
	}
}
