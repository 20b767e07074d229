package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/rmmvregion/cache"
	"github.com/kasuganosora/rmmvregion/config"
)

const (
	OperatorKey  = "operator"
	SessionIDKey = "session_id"
)

// SessionKey is the cache key marking session id as live.
func SessionKey(id string) string { return "session:" + id }

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Check session still valid in cache.
		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, SessionKey(claims.ID))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(OperatorKey, claims.Operator)
		ctx.Set(SessionIDKey, claims.ID)
		ctx.Next()
	}
}

// GetOperator retrieves the authenticated operator from the Gin context.
func GetOperator(c *gin.Context) string {
	return c.GetString(OperatorKey)
}

// GetSessionID retrieves the session ID of the authenticated token.
func GetSessionID(c *gin.Context) string {
	return c.GetString(SessionIDKey)
}
