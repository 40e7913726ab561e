package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/mdraihan27/maildoor/internal/models"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/response"
)

// RequireRoles restricts a route to the given dashboard roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	return rbac(false, roles...)
}

// RequireRolesOrSelf behaves like RequireRoles but additionally allows a
// caller whose user ID matches the :id route parameter.
func RequireRolesOrSelf(roles ...models.UserRole) gin.HandlerFunc {
	return rbac(true, roles...)
}

func rbac(allowSelf bool, roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims := CurrentClaims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; ok {
			c.Next()
			return
		}
		if allowSelf {
			if targetID := c.Param("id"); targetID != "" && targetID == claims.UserID {
				c.Next()
				return
			}
		}
		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// IsAdmin reports whether the claims carry an admin-level role.
func IsAdmin(claims *models.JWTClaims) bool {
	return claims != nil && (claims.Role == models.RoleAdmin || claims.Role == models.RoleSuperAdmin)
}
