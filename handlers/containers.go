package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"portside/services"
)

type ContainersHandler struct {
	lifecycle *services.Lifecycle
}

func NewContainersHandler(lifecycle *services.Lifecycle) *ContainersHandler {
	return &ContainersHandler{lifecycle: lifecycle}
}

type createContainerRequest struct {
	Name     string            `json:"name"`
	Image    string            `json:"image"`
	UserID   string            `json:"user_id"`
	Labels   map[string]string `json:"labels"`
	Metadata map[string]any    `json:"metadata"`
	Project  *projectRequest   `json:"project"`
}

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// Create provisions a new workspace container.
func (h *ContainersHandler) Create(c *gin.Context) {
	var req createContainerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Name is required"})
		return
	}

	create := services.CreateWorkspaceRequest{
		Name:     req.Name,
		Image:    req.Image,
		UserID:   req.UserID,
		Labels:   req.Labels,
		Metadata: req.Metadata,
	}
	if req.Project != nil {
		create.Project = &services.ProjectSpec{
			Name:        req.Project.Name,
			Description: req.Project.Description,
			Type:        req.Project.Type,
		}
	}

	ws, err := h.lifecycle.Create(c.Request.Context(), create)
	if err != nil {
		c.JSON(lifecycleStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "container": ws})
}

// List returns all workspaces, newest first, optionally filtered by
// owner.
func (h *ContainersHandler) List(c *gin.Context) {
	workspaces, err := h.lifecycle.List(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "containers": workspaces})
}

// Start transitions a workspace from created to running.
func (h *ContainersHandler) Start(c *gin.Context) {
	ws, err := h.lifecycle.Start(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(lifecycleStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "container": ws})
}

// Stop tears down a running workspace. Engine teardown trouble is
// reported as a warning alongside the stopped record.
func (h *ContainersHandler) Stop(c *gin.Context) {
	ws, warning, err := h.lifecycle.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(lifecycleStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	resp := gin.H{"success": true, "container": ws}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

// Delete stops the workspace if necessary and removes its record.
func (h *ContainersHandler) Delete(c *gin.Context) {
	warning, err := h.lifecycle.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(lifecycleStatus(err), gin.H{"success": false, "error": err.Error()})
		return
	}

	resp := gin.H{"success": true, "message": "Container deleted"}
	if warning != "" {
		resp["warning"] = warning
	}
	c.JSON(http.StatusOK, resp)
}

func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrPortsExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
