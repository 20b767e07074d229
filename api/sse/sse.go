// Package sse streams region firings to operators as server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/rmmvregion/audit"
	"github.com/kasuganosora/rmmvregion/cache"
	"github.com/kasuganosora/rmmvregion/config"
	mw "github.com/kasuganosora/rmmvregion/middleware"
	"go.uber.org/zap"
)

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	sec       config.SecurityConfig
	c         cache.Cache
	logger    *zap.Logger
	keepalive time.Duration
}

// NewHandler creates a new SSE Handler.
func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pubsub: pubsub, c: c, sec: sec, logger: logger, keepalive: 30 * time.Second}
}

// SetKeepalive changes the comment interval that keeps proxies from closing
// idle streams.
func (h *Handler) SetKeepalive(d time.Duration) { h.keepalive = d }

// token reads the bearer header, falling back to ?token= since EventSource
// cannot set headers.
func token(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// ServeSSE handles GET /api/stream?map_id=<id>.
// Without map_id every map's firings are delivered.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := token(c)
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, mw.SessionKey(claims.ID))
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}

	mapFilter := 0
	if s := c.Query("map_id"); s != "" {
		mapFilter, err = strconv.Atoi(s)
		if err != nil || mapFilter <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid map_id"})
			return
		}
	}

	// Set SSE headers.
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, audit.ChannelFirings)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	h.logger.Debug("sse stream opened",
		zap.String("operator", claims.Operator), zap.Int("map_id", mapFilter))

	// Send initial connected event.
	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"map_id\":%d}\n\n", mapFilter)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if mapFilter != 0 && !matchesMap(msg.Payload, mapFilter) {
				continue
			}
			fmt.Fprintf(c.Writer, "event: firing\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

func matchesMap(payload string, mapID int) bool {
	var rec struct {
		MapID int `json:"map_id"`
	}
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return false
	}
	return rec.MapID == mapID
}
