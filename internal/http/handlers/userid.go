package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// userID extracts the authenticated user id from the Gin context, set by
// BearerAuth (or left absent for unauthenticated endpoints). It falls back
// to the "X-User-ID" header for tests and demo use, then to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}
