package world

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kasuganosora/rmmvregion/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// selfSwitchKey uniquely identifies a self-switch for one event on one map.
type selfSwitchKey struct {
	MapID   int
	EventID int
	Ch      string // "A","B","C","D"
}

type changeKind uint8

const (
	changeSwitch changeKind = iota + 1
	changeVariable
	changeSelfSwitch
)

// pendingChange is one value waiting to be written.
type pendingChange struct {
	kind    changeKind
	id      int
	ss      selfSwitchKey
	boolVal bool
	intVal  int
}

// GameState holds server-authoritative switches, variables and self-switches.
// Switches and variables are global (shared across all maps) per RMMV
// convention. Self-switches are per (map, event, channel).
//
// Every write bumps Version; map rooms compare it each tick to decide when to
// re-select event pages. Writes are persisted in batches by Flush.
type GameState struct {
	mu           sync.RWMutex
	switches     map[int]bool
	variables    map[int]int
	selfSwitches map[selfSwitchKey]bool
	version      atomic.Uint64
	db           *gorm.DB // nil = no persistence (tests)
	logger       *zap.Logger

	pendingMu sync.Mutex
	pending   map[string]pendingChange
}

// NewGameState creates an empty GameState. db may be nil.
func NewGameState(db *gorm.DB, logger *zap.Logger) *GameState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GameState{
		switches:     make(map[int]bool),
		variables:    make(map[int]int),
		selfSwitches: make(map[selfSwitchKey]bool),
		db:           db,
		logger:       logger,
		pending:      make(map[string]pendingChange),
	}
}

// Version increases on every write.
func (gs *GameState) Version() uint64 { return gs.version.Load() }

// PendingCount returns the number of writes not yet flushed.
func (gs *GameState) PendingCount() int {
	gs.pendingMu.Lock()
	defer gs.pendingMu.Unlock()
	return len(gs.pending)
}

// Flush writes all pending changes to the database in one transaction.
// On failure the changes are requeued unless a newer write replaced them.
func (gs *GameState) Flush(ctx context.Context) error {
	if gs.db == nil {
		return nil
	}

	gs.pendingMu.Lock()
	if len(gs.pending) == 0 {
		gs.pendingMu.Unlock()
		return nil
	}
	batch := gs.pending
	gs.pending = make(map[string]pendingChange)
	gs.pendingMu.Unlock()

	err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ch := range batch {
			var row interface{}
			switch ch.kind {
			case changeSwitch:
				row = &model.GameSwitch{SwitchID: ch.id, Value: ch.boolVal}
			case changeVariable:
				row = &model.GameVariable{VariableID: ch.id, Value: ch.intVal}
			case changeSelfSwitch:
				row = &model.GameSelfSwitch{MapID: ch.ss.MapID, EventID: ch.ss.EventID, Ch: ch.ss.Ch, Value: ch.boolVal}
			default:
				continue
			}
			if err := tx.Clauses(clause.OnConflict{
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		gs.pendingMu.Lock()
		for k, ch := range batch {
			if _, newer := gs.pending[k]; !newer {
				gs.pending[k] = ch
			}
		}
		gs.pendingMu.Unlock()
		gs.logger.Error("failed to flush game state", zap.Int("changes", len(batch)), zap.Error(err))
		return fmt.Errorf("world: flush game state: %w", err)
	}
	gs.logger.Debug("game state flushed", zap.Int("changes", len(batch)))
	return nil
}

func (gs *GameState) queueChange(key string, change pendingChange) {
	gs.pendingMu.Lock()
	gs.pending[key] = change
	gs.pendingMu.Unlock()
}

// LoadFromDB populates the in-memory state from the database.
// Call once at startup, before any room is opened.
func (gs *GameState) LoadFromDB(ctx context.Context) error {
	if gs.db == nil {
		return nil
	}
	db := gs.db.WithContext(ctx)

	var switches []model.GameSwitch
	if err := db.Find(&switches).Error; err != nil {
		return fmt.Errorf("world: load switches: %w", err)
	}
	var vars []model.GameVariable
	if err := db.Find(&vars).Error; err != nil {
		return fmt.Errorf("world: load variables: %w", err)
	}
	var selfSwitches []model.GameSelfSwitch
	if err := db.Find(&selfSwitches).Error; err != nil {
		return fmt.Errorf("world: load self switches: %w", err)
	}

	gs.mu.Lock()
	for _, s := range switches {
		gs.switches[s.SwitchID] = s.Value
	}
	for _, v := range vars {
		gs.variables[v.VariableID] = v.Value
	}
	for _, ss := range selfSwitches {
		gs.selfSwitches[selfSwitchKey{MapID: ss.MapID, EventID: ss.EventID, Ch: ss.Ch}] = ss.Value
	}
	gs.mu.Unlock()
	gs.version.Add(1)

	gs.logger.Info("game state loaded",
		zap.Int("switches", len(switches)),
		zap.Int("variables", len(vars)),
		zap.Int("self_switches", len(selfSwitches)))
	return nil
}

// GetSwitch returns the value of a global switch.
func (gs *GameState) GetSwitch(id int) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.switches[id]
}

// SetSwitch sets the value of a global switch and queues it for persistence.
func (gs *GameState) SetSwitch(id int, val bool) {
	gs.mu.Lock()
	gs.switches[id] = val
	gs.mu.Unlock()
	gs.version.Add(1)

	gs.queueChange(model.GameSwitch{SwitchID: id}.Key(), pendingChange{kind: changeSwitch, id: id, boolVal: val})
}

// GetVariable returns the value of a global variable.
func (gs *GameState) GetVariable(id int) int {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.variables[id]
}

// SetVariable sets the value of a global variable and queues it for persistence.
func (gs *GameState) SetVariable(id int, val int) {
	gs.mu.Lock()
	gs.variables[id] = val
	gs.mu.Unlock()
	gs.version.Add(1)

	gs.queueChange(model.GameVariable{VariableID: id}.Key(), pendingChange{kind: changeVariable, id: id, intVal: val})
}

// GetSelfSwitch returns the value of a self-switch for a specific event.
func (gs *GameState) GetSelfSwitch(mapID, eventID int, ch string) bool {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.selfSwitches[selfSwitchKey{MapID: mapID, EventID: eventID, Ch: ch}]
}

// SetSelfSwitch sets the value of a self-switch and queues it for persistence.
func (gs *GameState) SetSelfSwitch(mapID, eventID int, ch string, val bool) {
	key := selfSwitchKey{MapID: mapID, EventID: eventID, Ch: ch}
	gs.mu.Lock()
	gs.selfSwitches[key] = val
	gs.mu.Unlock()
	gs.version.Add(1)

	gs.queueChange(model.GameSelfSwitch{MapID: mapID, EventID: eventID, Ch: ch}.Key(), pendingChange{kind: changeSelfSwitch, ss: key, boolVal: val})
}

// SwitchEntry is one switch in a listing.
type SwitchEntry struct {
	ID    int  `json:"id"`
	Value bool `json:"value"`
}

// VariableEntry is one variable in a listing.
type VariableEntry struct {
	ID    int `json:"id"`
	Value int `json:"value"`
}

// Switches lists every switch that has been written, by ID.
func (gs *GameState) Switches() []SwitchEntry {
	gs.mu.RLock()
	out := make([]SwitchEntry, 0, len(gs.switches))
	for id, v := range gs.switches {
		out = append(out, SwitchEntry{ID: id, Value: v})
	}
	gs.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Variables lists every variable that has been written, by ID.
func (gs *GameState) Variables() []VariableEntry {
	gs.mu.RLock()
	out := make([]VariableEntry, 0, len(gs.variables))
	for id, v := range gs.variables {
		out = append(out, VariableEntry{ID: id, Value: v})
	}
	gs.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
