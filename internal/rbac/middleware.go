package rbac

import (
	"net/http"

	"callsense/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireCompany rejects requests whose identity carries no company_id.
func RequireCompany() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.CompanyID(c.Request.Context()); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "company_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows the request if the caller holds one of allowed. Admin always passes.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
