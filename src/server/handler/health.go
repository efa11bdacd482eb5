package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apimgr/weatherapi/src/database"
	"github.com/apimgr/weatherapi/src/scheduler"
)

// TaskReporter lists scheduled maintenance tasks
type TaskReporter interface {
	GetTaskStatus() []scheduler.TaskStatus
}

// HealthHandler reports liveness and database reachability
type HealthHandler struct {
	db      *database.DB
	tasks   TaskReporter
	version string
	started time.Time
}

// NewHealthHandler creates the health handler. tasks may be nil.
func NewHealthHandler(db *database.DB, tasks TaskReporter, version string) *HealthHandler {
	return &HealthHandler{db: db, tasks: tasks, version: version, started: time.Now()}
}

// HandleHealth handles GET /healthz
func (h *HealthHandler) HandleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), database.TimeoutPing)
	defer cancel()

	dbStatus := "ok"
	status := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"database":  gin.H{"driver": h.db.Driver, "status": dbStatus},
	}
	if h.tasks != nil {
		body["scheduler"] = h.tasks.GetTaskStatus()
	}
	if status != http.StatusOK {
		body["status"] = "Degraded"
	}

	c.JSON(status, body)
}
