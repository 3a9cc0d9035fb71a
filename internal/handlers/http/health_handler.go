package http

import (
	"context"
	"net/http"
	"time"

	"camstream/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checker   *monitoring.HealthChecker
	startedAt time.Time
	hosts     func() int
}

// NewHealthHandler serves liveness and readiness. hosts reports the number
// of connected bridge hosts and may be nil.
func NewHealthHandler(checker *monitoring.HealthChecker, hosts func() int) *HealthHandler {
	return &HealthHandler{
		checker:   checker,
		startedAt: time.Now(),
		hosts:     hosts,
	}
}

func (h *HealthHandler) SetupRoutes(router gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}

func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":    monitoring.StatusHealthy,
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startedAt).String(),
		"checks":    h.checker.LastResults(),
	}
	if h.hosts != nil {
		body["hosts"] = h.hosts()
	}
	c.JSON(http.StatusOK, body)
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.checker.CheckAll(ctx)
	if status.Status != monitoring.StatusHealthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}
