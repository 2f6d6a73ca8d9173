package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-commerce-api/internal/models"
	appErrors "github.com/noah-isme/lms-commerce-api/pkg/errors"
	"github.com/noah-isme/lms-commerce-api/pkg/response"
)

// AllowSelf is accepted by RequireRoles and admits a caller whose user id
// matches the :id route parameter, so owners can read their own records.
const AllowSelf = "SELF"

// RequireRoles gates a route on an explicit role list. Most routes use
// RequirePermission; the role form exists for owner-or-admin reads where a
// capability flag would be too coarse.
func RequireRoles(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)

		for _, entry := range allowed {
			if entry == AllowSelf {
				if id := c.Param("id"); id != "" && id == claims.UserID {
					c.Next()
					return
				}
				continue
			}
			if claims.Role == models.UserRole(entry) {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrForbidden)
		c.Abort()
	}
}

// RequirePermission gates a route on a single capability flag instead of an
// explicit role list, so role-to-capability mapping stays in one place.
func RequirePermission(check func(models.Permissions) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)
		if !check(claims.Permissions) {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStaff admits any staff role.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.JWTClaims)
		if !claims.Role.Staff() {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
