package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func protected(mgr *JWTManager, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := []gin.HandlerFunc{RequireAuth(mgr)}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRole(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(ContextUserID)})
	})
	r.GET("/p", handlers...)
	return r
}

func get(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuthRoundTrip(t *testing.T) {
	mgr := NewJWTManager("secret", time.Hour)
	token, err := mgr.Generate("u1", RoleMember)
	require.NoError(t, err)

	r := protected(mgr)
	require.Equal(t, http.StatusOK, get(r, token).Code)
	require.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	require.Equal(t, http.StatusUnauthorized, get(r, "garbage").Code)
}

func TestRequireAuthRejectsWrongKey(t *testing.T) {
	other := NewJWTManager("other-secret", time.Hour)
	token, err := other.Generate("u1", RoleMember)
	require.NoError(t, err)

	r := protected(NewJWTManager("secret", time.Hour))
	require.Equal(t, http.StatusUnauthorized, get(r, token).Code)
}

func TestRequireAuthRejectsExpired(t *testing.T) {
	mgr := NewJWTManager("secret", time.Nanosecond)
	token, err := mgr.Generate("u1", RoleMember)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	r := protected(mgr)
	require.Equal(t, http.StatusUnauthorized, get(r, token).Code)
}

func TestRequireRole(t *testing.T) {
	mgr := NewJWTManager("secret", time.Hour)
	r := protected(mgr, RoleCoordinator)

	member, _ := mgr.Generate("u1", RoleMember)
	coordinator, _ := mgr.Generate("u2", RoleCoordinator)
	admin, _ := mgr.Generate("u3", RoleAdmin)

	require.Equal(t, http.StatusForbidden, get(r, member).Code)
	require.Equal(t, http.StatusOK, get(r, coordinator).Code)
	require.Equal(t, http.StatusOK, get(r, admin).Code, "admin passes every role gate")
}
