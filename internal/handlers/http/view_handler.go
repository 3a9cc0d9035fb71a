package http

import (
	"net/http"
	"strconv"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/pkg/errors"
	"camstream/pkg/tracing"

	"github.com/gin-gonic/gin"
)

// ViewHandler mirrors the bridge command surface over REST. Command outcomes
// are asynchronous and reach hosts as bridge events.
type ViewHandler struct {
	views ports.ViewCommands
}

func NewViewHandler(views ports.ViewCommands) *ViewHandler {
	return &ViewHandler{views: views}
}

func (h *ViewHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/views", h.CreateView)
	api.PUT("/views/:tag", h.CreateViewWithTag)
	api.GET("/views", h.ListViews)
	api.GET("/views/:tag", h.GetView)
	api.DELETE("/views/:tag", h.DestroyView)
	api.POST("/views/:tag/commands", h.SendCommand)
}

func viewTag(c *gin.Context) (int, bool) {
	tag, err := strconv.Atoi(c.Param("tag"))
	if err != nil || tag <= 0 {
		c.Error(errors.NewInvalidInputError("view tag must be a positive integer"))
		return 0, false
	}
	return tag, true
}

func (h *ViewHandler) CreateView(c *gin.Context) {
	tag, err := h.views.CreateView(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"view_tag": tag})
}

func (h *ViewHandler) CreateViewWithTag(c *gin.Context) {
	tag, ok := viewTag(c)
	if !ok {
		return
	}
	if err := h.views.CreateViewWithTag(c.Request.Context(), tag); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"view_tag": tag})
}

func (h *ViewHandler) ListViews(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"views": h.views.Views(c.Request.Context())})
}

func (h *ViewHandler) GetView(c *gin.Context) {
	tag, ok := viewTag(c)
	if !ok {
		return
	}
	snap, err := h.views.Snapshot(c.Request.Context(), tag)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *ViewHandler) DestroyView(c *gin.Context) {
	tag, ok := viewTag(c)
	if !ok {
		return
	}
	if err := h.views.DestroyView(c.Request.Context(), tag); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SendCommand queues a command for the view in the path. The path tag wins
// over any tag in the body.
func (h *ViewHandler) SendCommand(c *gin.Context) {
	tag, ok := viewTag(c)
	if !ok {
		return
	}

	var cmd domain.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.Error(errors.NewInvalidInputError("invalid command format"))
		return
	}
	cmd.ViewTag = tag

	ctx, span := tracing.TraceCommand(c.Request.Context(), string(cmd.Name), tag)
	defer span.End()

	if err := h.views.Dispatch(ctx, cmd); err != nil {
		tracing.RecordError(ctx, err)
		c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"view_tag":   tag,
		"command":    cmd.Name,
		"request_id": cmd.RequestID,
	})
}
