package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"camstream/internal/core/services"
	apperrors "camstream/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	return r
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/bridge?access_token=q", nil)
	token, ok := BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "q", token)

	req.Header.Set("Authorization", "Bearer h")
	token, ok = BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "h", token, "header wins over query")

	req.Header.Set("Authorization", "Basic abc")
	_, ok = BearerToken(req)
	assert.False(t, ok)
}

func TestAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService("secret", "camstream", time.Hour)
	token, err := auth.GenerateToken("host-7")
	require.NoError(t, err)

	r := newRouter(AuthMiddleware(auth))
	r.GET("/views", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(HostIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/views", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/views", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/views", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "host-7", w.Body.String())
}

func TestErrorHandlerMiddleware(t *testing.T) {
	r := newRouter(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(apperrors.NewViewNotFoundError(3))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeViewNotFound))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), string(apperrors.ErrCodeInternal))
}

func TestRecoveryMiddleware(t *testing.T) {
	r := newRouter(RecoveryMiddleware(zap.NewNop().Sugar()))
	r.GET("/panic", func(c *gin.Context) { panic("bad") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
