package middleware

import (
	"crypto/subtle"
	"net/http"

	"dining-service/internal/models"
	"github.com/gin-gonic/gin"
)

// AdminSecretHeader carries the shared secret for admin routes
const AdminSecretHeader = "X-Admin-Secret"

// IdentityKey is the gin context key holding the request's models.Identity
const IdentityKey = "identity"

// AdminSecret rejects requests whose X-Admin-Secret header does not match secret.
// An empty secret closes the admin routes entirely.
func AdminSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(AdminSecretHeader)
		if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Success: false,
				Error: models.Error{
					Code:    "UNAUTHORIZED",
					Message: "Valid " + AdminSecretHeader + " header is required",
				},
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Identity resolves the caller from the X-User-ID / X-User-Email headers set
// by the gateway and stores it under IdentityKey. Requests without a user id
// are attributed to the admin secret holder.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := models.Identity{
			UserID: c.GetHeader("X-User-ID"),
			Email:  c.GetHeader("X-User-Email"),
			Role:   "admin",
		}
		if identity.UserID == "" {
			identity.UserID = "admin-secret"
		}
		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// GetIdentity returns the identity stored by Identity, or an anonymous one
func GetIdentity(c *gin.Context) models.Identity {
	if v, ok := c.Get(IdentityKey); ok {
		if identity, ok := v.(models.Identity); ok {
			return identity
		}
	}
	return models.Identity{UserID: "anonymous"}
}
