package api

import (
	"net/http"
	"strings"

	"blindbox-service/internal/auth"
	"blindbox-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const claimsKey = "claims"

// requireAuth accepts a valid, unrevoked bearer token and stores its claims
// on the context.
func (h *Handler) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		claims, err := auth.ValidateToken(h.jwtSecret, strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		revoked, err := h.revoked.IsTokenRevoked(c.Request.Context(), claims.ID)
		if err != nil {
			// fail closed
			h.logger.Error("Failed to check token denylist", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Unable to verify token"})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has been revoked"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func requireRole(minimum string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims == nil || !models.RoleAtLeast(claims.Role, minimum) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
			return
		}
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
