package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// RequireJSON rejects bodies that are not declared as JSON.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength == 0 {
			c.Next()
			return
		}
		ct := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Type")))
		if ct != "" && !strings.HasPrefix(ct, "application/json") {
			AbortWithError(c, newValidationError("content_type", "unsupported_media_type", "content type must be application/json"))
			return
		}
		c.Next()
	}
}

func paramID(c *gin.Context) (string, error) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return "", invalidRequestError()
	}
	return id, nil
}
