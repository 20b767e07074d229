package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/rmmvregion/audit"
	"github.com/kasuganosora/rmmvregion/game/world"
	mw "github.com/kasuganosora/rmmvregion/middleware"
	"go.uber.org/zap"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 100
)

// MapHandler exposes map rooms, their NPCs and region firings.
type MapHandler struct {
	wm     *world.WorldManager
	audit  *audit.Service
	logger *zap.Logger
}

// NewMapHandler creates a MapHandler.
func NewMapHandler(wm *world.WorldManager, auditSvc *audit.Service, logger *zap.Logger) *MapHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapHandler{wm: wm, audit: auditSvc, logger: logger}
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}

func limitQuery(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// room resolves :id to an open room, writing 404 when it is not open.
func (h *MapHandler) room(c *gin.Context) (*world.MapRoom, int, bool) {
	mapID, ok := intParam(c, "id")
	if !ok {
		return nil, 0, false
	}
	room := h.wm.Get(mapID)
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "map not open"})
		return nil, 0, false
	}
	return room, mapID, true
}

// List handles GET /api/maps.
func (h *MapHandler) List(c *gin.Context) {
	type mapInfo struct {
		MapID    int    `json:"map_id"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
		NPCs     int    `json:"npcs"`
		Tick     uint64 `json:"tick"`
		Reserved int    `json:"reserved"`
	}
	ids := h.wm.Rooms()
	out := make([]mapInfo, 0, len(ids))
	for _, id := range ids {
		room := h.wm.Get(id)
		if room == nil {
			continue
		}
		w, hgt := room.Size()
		out = append(out, mapInfo{
			MapID: id, Width: w, Height: hgt,
			NPCs: room.NPCCount(), Tick: room.Tick(), Reserved: len(room.Reserved()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"maps": out, "count": len(out)})
}

// Open handles POST /api/maps/:id/open.
func (h *MapHandler) Open(c *gin.Context) {
	mapID, ok := intParam(c, "id")
	if !ok {
		return
	}
	room, err := h.wm.GetOrCreate(c.Request.Context(), mapID)
	if errors.Is(err, world.ErrMapNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "map not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("map opened", zap.Int("map_id", mapID), zap.String("operator", mw.GetOperator(c)))
	w, hgt := room.Size()
	c.JSON(http.StatusOK, gin.H{"map_id": mapID, "width": w, "height": hgt, "npcs": room.NPCCount()})
}

// Close handles DELETE /api/maps/:id.
func (h *MapHandler) Close(c *gin.Context) {
	mapID, ok := intParam(c, "id")
	if !ok {
		return
	}
	if !h.wm.Destroy(c.Request.Context(), mapID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "map not open"})
		return
	}
	h.logger.Info("map closed", zap.Int("map_id", mapID), zap.String("operator", mw.GetOperator(c)))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// NPCs handles GET /api/maps/:id/npcs.
func (h *MapHandler) NPCs(c *gin.Context) {
	room, _, ok := h.room(c)
	if !ok {
		return
	}
	npcs := room.NPCSnapshot()
	c.JSON(http.StatusOK, gin.H{"npcs": npcs, "count": len(npcs)})
}

// NPC handles GET /api/maps/:id/npcs/:eid.
func (h *MapHandler) NPC(c *gin.Context) {
	room, _, ok := h.room(c)
	if !ok {
		return
	}
	eid, ok := intParam(c, "eid")
	if !ok {
		return
	}
	npc, found := room.GetNPC(eid)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "npc not found"})
		return
	}
	c.JSON(http.StatusOK, npc)
}

type moveRequest struct {
	Dir int `json:"dir" binding:"required"`
}

// Move handles POST /api/maps/:id/npcs/:eid/move. A blocked tile is not an
// error: the NPC turns and moved is false.
func (h *MapHandler) Move(c *gin.Context) {
	room, mapID, ok := h.room(c)
	if !ok {
		return
	}
	eid, ok := intParam(c, "eid")
	if !ok {
		return
	}
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !world.ValidDir(req.Dir) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dir must be 2, 4, 6 or 8"})
		return
	}
	moved, err := room.ForceMove(eid, req.Dir)
	switch {
	case errors.Is(err, world.ErrNPCNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "npc not found"})
		return
	case errors.Is(err, world.ErrNPCMoving):
		c.JSON(http.StatusConflict, gin.H{"error": "npc is moving"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.logger.Debug("npc forced move",
		zap.Int("map_id", mapID), zap.Int("event_id", eid),
		zap.Int("dir", req.Dir), zap.Bool("moved", moved))
	npc, _ := room.GetNPC(eid)
	c.JSON(http.StatusOK, gin.H{"moved": moved, "npc": npc})
}

// Reserved handles GET /api/maps/:id/reserved.
func (h *MapHandler) Reserved(c *gin.Context) {
	room, _, ok := h.room(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"queue":   room.Reserved(),
		"running": room.RunningCommonEvent(),
	})
}

type reserveRequest struct {
	CommonEventID int `json:"common_event_id" binding:"required,min=1"`
}

// Reserve handles POST /api/maps/:id/reserved.
func (h *MapHandler) Reserve(c *gin.Context) {
	room, mapID, ok := h.room(c)
	if !ok {
		return
	}
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room.ReserveCommonEvent(req.CommonEventID)
	h.logger.Info("common event reserved",
		zap.Int("map_id", mapID), zap.Int("common_event_id", req.CommonEventID),
		zap.String("operator", mw.GetOperator(c)))
	c.JSON(http.StatusAccepted, gin.H{"queue": room.Reserved()})
}

// RegionLog handles GET /api/maps/:id/region-log. It reads the cached list,
// so it also works for maps that are closed.
func (h *MapHandler) RegionLog(c *gin.Context) {
	mapID, ok := intParam(c, "id")
	if !ok {
		return
	}
	recs, err := h.audit.Recent(c.Request.Context(), mapID, limitQuery(c, defaultLogLimit, maxLogLimit))
	if err != nil {
		h.logger.Error("read region log", zap.Int("map_id", mapID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"firings": recs, "count": len(recs)})
}

// Firings handles GET /api/maps/:id/firings from the database.
func (h *MapHandler) Firings(c *gin.Context) {
	mapID, ok := intParam(c, "id")
	if !ok {
		return
	}
	rows, err := h.audit.Query(c.Request.Context(), mapID, limitQuery(c, 100, 1000))
	if err != nil {
		h.logger.Error("query firings", zap.Int("map_id", mapID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"firings": rows, "count": len(rows)})
}
