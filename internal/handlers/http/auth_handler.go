package http

import (
	"net/http"
	"time"

	"camstream/internal/core/services"
	"camstream/internal/infrastructure/middleware"
	"camstream/pkg/errors"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

// SetupRoutes registers routes on a group already guarded by AuthMiddleware.
func (h *AuthHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/auth/refresh", h.RefreshToken)
}

// RefreshToken trades a valid token for a fresh one for the same host.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	hostID := c.GetString(middleware.HostIDKey)
	if hostID == "" {
		c.Error(errors.NewUnauthorizedError("host id missing from token"))
		return
	}

	token, err := h.authService.GenerateToken(hostID)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "failed to generate token", http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"host_id":      hostID,
		"access_token": token,
		"expires_in":   int(h.tokenTTL / time.Second),
	})
}
