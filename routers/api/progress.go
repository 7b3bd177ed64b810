package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProjectProgressWebSocket streams the project from the store: the current
// row first, then again whenever its status changes, until it is completed
// or failed.
func (h *Handler) ProjectProgressWebSocket(c *gin.Context) {
	id := c.Param("project_id")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "project_id", id, "error", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	p, err := h.projects.Get(ctx, id)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	if err := conn.WriteJSON(p); err != nil || p.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()
	prev := p.Status
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cur, err := h.projects.Get(ctx, id)
		if err != nil {
			// deleted while watching
			_ = conn.WriteJSON(gin.H{"error": err.Error()})
			return
		}
		if cur.Status == prev {
			continue
		}
		if err := conn.WriteJSON(cur); err != nil {
			return
		}
		prev = cur.Status
		if cur.Status.Terminal() {
			return
		}
	}
}
