package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin runs after RequireAuth. A missing identity is treated the same
// as a non-admin one.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := UserFromContext(c)

		if !ok || !u.IsAdmin {
			m.reject(c, http.StatusForbidden, ReasonForbidden, nil, "Admin privileges required")
			return
		}
		c.Next()
	}
}
