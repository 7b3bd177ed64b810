package routers

import (
	"net/http"

	"TopicToVideo-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter(h *api.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	v1 := r.Group("/v1/api")
	{
		v1.POST("/projects", h.CreateProject)
		v1.GET("/projects", h.ListProjects)
		v1.GET("/projects/:project_id", h.GetProject)
		v1.POST("/projects/:project_id/retry", h.RetryProject)
		v1.DELETE("/projects/:project_id", h.DeleteProject)
	}
	r.GET("/projects/:project_id/wss", h.ProjectProgressWebSocket)
	return r
}
