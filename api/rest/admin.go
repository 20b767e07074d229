package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/rmmvregion/audit"
	"github.com/kasuganosora/rmmvregion/game/world"
	"github.com/kasuganosora/rmmvregion/scheduler"
	"go.uber.org/zap"
)

// AdminHandler serves server health endpoints.
type AdminHandler struct {
	wm     *world.WorldManager
	audit  *audit.Service
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	wm *world.WorldManager,
	auditSvc *audit.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{wm: wm, audit: auditSvc, sched: sched, logger: logger}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	total, err := h.audit.Total(c.Request.Context())
	if err != nil {
		h.logger.Warn("read firing total", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{
		"active_rooms":    h.wm.ActiveRoomCount(),
		"open_maps":       h.wm.Rooms(),
		"firings_total":   total,
		"firings_dropped": h.audit.Dropped(),
		"state_pending":   h.wm.GameState().PendingCount(),
		"state_version":   h.wm.GameState().Version(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// ListSchedulerTasks returns the run history of every ticker task.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Status()})
}
