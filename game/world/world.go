package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kasuganosora/rmmvregion/plugin/hook"
	"github.com/kasuganosora/rmmvregion/resource"
	"go.uber.org/zap"
)

// ErrMapNotFound is returned when a map ID has no loaded map data.
var ErrMapNotFound = errors.New("world: map not found")

// WorldManager manages all active MapRoom instances.
type WorldManager struct {
	mu     sync.RWMutex
	rooms  map[int]*MapRoom
	res    *resource.ResourceLoader
	state  *GameState
	opts   RoomOptions
	logger *zap.Logger

	// rooms run under this context so they outlive the request that opened them
	runCtx    context.Context
	cancelRun context.CancelFunc

	obsMu     sync.RWMutex
	observers []Observer
}

// NewWorldManager creates a new WorldManager. Every room it opens shares
// state and opts.
func NewWorldManager(res *resource.ResourceLoader, state *GameState, opts RoomOptions, logger *zap.Logger) *WorldManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorldManager{
		rooms:     make(map[int]*MapRoom),
		res:       res,
		state:     state,
		opts:      opts,
		logger:    logger,
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

// GameState returns the global game state.
func (wm *WorldManager) GameState() *GameState { return wm.state }

// AddObserver registers fn on every open room and every room opened later.
func (wm *WorldManager) AddObserver(fn Observer) {
	wm.obsMu.Lock()
	wm.observers = append(wm.observers, fn)
	wm.obsMu.Unlock()

	wm.mu.RLock()
	defer wm.mu.RUnlock()
	for _, r := range wm.rooms {
		r.AddObserver(fn)
	}
}

// GetOrCreate returns the MapRoom for mapID, creating and starting it if needed.
func (wm *WorldManager) GetOrCreate(ctx context.Context, mapID int) (*MapRoom, error) {
	// Fast path: room already exists.
	wm.mu.RLock()
	room, ok := wm.rooms[mapID]
	wm.mu.RUnlock()
	if ok {
		return room, nil
	}
	if wm.res == nil || wm.res.Maps[mapID] == nil {
		return nil, fmt.Errorf("%w: %d", ErrMapNotFound, mapID)
	}

	wm.mu.Lock()
	// Double-check after acquiring write lock.
	if room, ok = wm.rooms[mapID]; ok {
		wm.mu.Unlock()
		return room, nil
	}
	room = NewMapRoom(mapID, wm.res, wm.state, wm.opts, wm.logger)
	wm.obsMu.RLock()
	for _, fn := range wm.observers {
		room.AddObserver(fn)
	}
	wm.obsMu.RUnlock()
	wm.rooms[mapID] = room
	go room.Run(wm.runCtx)
	wm.mu.Unlock()

	wm.logger.Info("map room created", zap.Int("map_id", mapID))
	_, _ = wm.opts.Hooks.Trigger(ctx, hook.OnMapOpen, mapID)
	return room, nil
}

// Get returns the MapRoom for mapID, or nil if it does not exist.
func (wm *WorldManager) Get(mapID int) *MapRoom {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return wm.rooms[mapID]
}

// Rooms returns the open map IDs in ascending order.
func (wm *WorldManager) Rooms() []int {
	wm.mu.RLock()
	ids := make([]int, 0, len(wm.rooms))
	for id := range wm.rooms {
		ids = append(ids, id)
	}
	wm.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// Destroy stops and removes the MapRoom for mapID. Reports whether a room
// was open.
func (wm *WorldManager) Destroy(ctx context.Context, mapID int) bool {
	wm.mu.Lock()
	room, ok := wm.rooms[mapID]
	if ok {
		delete(wm.rooms, mapID)
	}
	wm.mu.Unlock()
	if !ok {
		return false
	}
	room.Stop()
	<-room.Done()
	wm.logger.Info("map room destroyed", zap.Int("map_id", mapID))
	_, _ = wm.opts.Hooks.Trigger(ctx, hook.OnMapClose, mapID)
	return true
}

// ActiveRoomCount returns the number of active map rooms.
func (wm *WorldManager) ActiveRoomCount() int {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	return len(wm.rooms)
}

// StopAll stops all active map rooms and waits for their loops to exit
// (used at server shutdown).
func (wm *WorldManager) StopAll() {
	wm.mu.Lock()
	rooms := make([]*MapRoom, 0, len(wm.rooms))
	for _, r := range wm.rooms {
		rooms = append(rooms, r)
	}
	wm.rooms = make(map[int]*MapRoom)
	wm.mu.Unlock()
	wm.cancelRun()
	for _, r := range rooms {
		r.Stop()
		<-r.Done()
	}
}
