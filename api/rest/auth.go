package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/rmmvregion/cache"
	"github.com/kasuganosora/rmmvregion/config"
	mw "github.com/kasuganosora/rmmvregion/middleware"
	"go.uber.org/zap"
)

// AdminKeyHeader carries the operator key exchanged for a token.
const AdminKeyHeader = "X-Admin-Key"

// AuthHandler issues and revokes operator tokens.
type AuthHandler struct {
	cache  cache.Cache
	sec    config.SecurityConfig
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{cache: c, sec: sec, logger: logger}
}

type tokenRequest struct {
	Operator string `json:"operator" binding:"omitempty,max=32"`
}

// Token handles POST /api/auth/token.
// The X-Admin-Key header must match security.admin_key_hash. With no hash
// configured the endpoint is disabled (503) so the server cannot be deployed
// open by accident.
func (h *AuthHandler) Token(c *gin.Context) {
	if h.sec.AdminKeyHash == "" {
		c.JSON(http.StatusServiceUnavailable,
			gin.H{"error": "token endpoint disabled: set security.admin_key_hash in config"})
		return
	}
	if !mw.CheckAdminKey(h.sec.AdminKeyHash, c.GetHeader(AdminKeyHeader)) {
		h.logger.Warn("rejected admin key", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req tokenRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Operator == "" {
		req.Operator = "admin"
	}
	h.issue(c, req.Operator)
}

func (h *AuthHandler) issue(c *gin.Context, operator string) {
	token, id, err := mw.GenerateToken(operator, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}

	// Store session in cache as a simple KV entry so Exists() works uniformly.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(id), operator, h.sec.JWTTTLH); err != nil {
		h.logger.Error("store session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"operator":   operator,
		"expires_at": time.Now().Add(h.sec.JWTTTLH).UTC(),
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(mw.GetSessionID(c)))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The old session is revoked.
func (h *AuthHandler) Refresh(c *gin.Context) {
	operator := mw.GetOperator(c)
	if operator == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	_ = h.cache.Del(ctx, mw.SessionKey(mw.GetSessionID(c)))
	cancel()
	h.issue(c, operator)
}
