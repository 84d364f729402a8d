// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements BearerAuth, the token verification gate for the
// gateway's authenticated REST endpoints (spec.md §6: send-message and the
// undelivered-message endpoints). It mirrors the WebSocket handshake's
// verification step (internal/ws.UpgradeHandler) but rejects with a JSON 401
// instead of a WebSocket close code.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/odin/gateway/internal/auth"
)

// BearerAuth verifies the "Authorization: Bearer <token>" header with
// verifier and stores the resulting user ID under the "userID" context key,
// the same key Logger(), KeyByUserOrIP(), and the handlers package's userID()
// helper already read.
func BearerAuth(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		userID, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "unauthorized",
				"message":    "missing or invalid bearer token",
			})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}
