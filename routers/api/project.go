package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"TopicToVideo-server/logger"
	"TopicToVideo-server/models"
	"TopicToVideo-server/service"

	"github.com/gin-gonic/gin"
)

// Projects is the submission surface the handlers drive.
type Projects interface {
	Submit(ctx context.Context, params models.CreateParams) (*models.Project, error)
	Retry(ctx context.Context, id string) (*models.Project, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.Project, error)
	List(ctx context.Context) ([]models.Project, error)
}

type Handler struct {
	projects     Projects
	log          *logger.Logger
	pollInterval time.Duration
}

func NewHandler(projects Projects, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{projects: projects, log: log.With("component", "api"), pollInterval: time.Second}
}

type createProjectRequest struct {
	Topic    string `form:"topic" json:"topic"`
	Style    string `form:"style" json:"style"`
	Language string `form:"language" json:"language"`
	Format   string `form:"format" json:"format"`
}

// CreateProject POST /v1/api/projects
func (h *Handler) CreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	project, err := h.projects.Submit(c.Request.Context(), models.CreateParams{
		Topic:    req.Topic,
		Style:    req.Style,
		Language: req.Language,
		Format:   models.Format(req.Format),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"project_id": project.ID,
		"status":     project.Status,
		"project":    project,
	})
}

// ListProjects GET /v1/api/projects, newest first.
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.projects.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.projects.Get(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": project})
}

// RetryProject POST /v1/api/projects/:project_id/retry
func (h *Handler) RetryProject(c *gin.Context) {
	project, err := h.projects.Retry(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"project_id": project.ID, "status": project.Status})
}

func (h *Handler) DeleteProject(c *gin.Context) {
	id := c.Param("project_id")
	if err := h.projects.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project_id": id, "deleted": true})
}

func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrProjectNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrJobInFlight), errors.Is(err, service.ErrAlreadyCompleted):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
