// Package auth holds the two identity surfaces of the service: the shared
// API key presented by the portal backend, and the guardian identity the
// portal forwards after its own session check.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	apiKeyHeader   = "X-API-Key"
	guardianHeader = "X-Guardian-ID"
)

// APIKeyMiddleware gates the /v1 surface on the portal's shared key. An
// empty configured key disables the check for local development.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(apiKeyHeader)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}

// GuardianID extracts the guardian identity from the forwarded header.
// The second return is false when the header is absent or not a UUID.
func GuardianID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetHeader(guardianHeader))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
