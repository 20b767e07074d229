package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/rmmvregion/game/world"
	mw "github.com/kasuganosora/rmmvregion/middleware"
	"go.uber.org/zap"
)

// StateHandler reads and writes global switches and variables. A write bumps
// the state version, so every open room refreshes its pages on the next tick.
type StateHandler struct {
	state  *world.GameState
	logger *zap.Logger
}

// NewStateHandler creates a StateHandler.
func NewStateHandler(state *world.GameState, logger *zap.Logger) *StateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateHandler{state: state, logger: logger}
}

// ListSwitches handles GET /api/switches.
func (h *StateHandler) ListSwitches(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"switches": h.state.Switches()})
}

// GetSwitch handles GET /api/switches/:id.
func (h *StateHandler) GetSwitch(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, world.SwitchEntry{ID: id, Value: h.state.GetSwitch(id)})
}

// SetSwitch handles PUT /api/switches/:id with {"value": bool}.
func (h *StateHandler) SetSwitch(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Value *bool `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.state.SetSwitch(id, *req.Value)
	h.logger.Info("switch set",
		zap.Int("id", id), zap.Bool("value", *req.Value), zap.String("operator", mw.GetOperator(c)))
	c.JSON(http.StatusOK, world.SwitchEntry{ID: id, Value: *req.Value})
}

// ListVariables handles GET /api/variables.
func (h *StateHandler) ListVariables(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"variables": h.state.Variables()})
}

// GetVariable handles GET /api/variables/:id.
func (h *StateHandler) GetVariable(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, world.VariableEntry{ID: id, Value: h.state.GetVariable(id)})
}

// SetVariable handles PUT /api/variables/:id with {"value": int}.
func (h *StateHandler) SetVariable(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Value *int `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.state.SetVariable(id, *req.Value)
	h.logger.Info("variable set",
		zap.Int("id", id), zap.Int("value", *req.Value), zap.String("operator", mw.GetOperator(c)))
	c.JSON(http.StatusOK, world.VariableEntry{ID: id, Value: *req.Value})
}
