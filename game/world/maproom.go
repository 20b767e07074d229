package world

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/kasuganosora/rmmvregion/game/interp"
	"github.com/kasuganosora/rmmvregion/game/script"
	"github.com/kasuganosora/rmmvregion/plugin/hook"
	"github.com/kasuganosora/rmmvregion/region"
	"github.com/kasuganosora/rmmvregion/resource"
	"go.uber.org/zap"
)

const defaultTickInterval = 50 * time.Millisecond // 20 TPS

// ErrNPCNotFound is returned for an unknown event ID.
var ErrNPCNotFound = errors.New("world: npc not found")

// ErrNPCMoving is returned when a forced move targets an NPC mid-step.
var ErrNPCMoving = errors.New("world: npc is moving")

// RoomOptions configures every MapRoom a WorldManager creates.
type RoomOptions struct {
	TickInterval time.Duration
	// EnableSwitch gates region common events; 0 means always on.
	EnableSwitch int
	StepBudget   int
	Hooks        *hook.HookCenter
	Sandbox      *script.Sandbox
	// Middlewares wrap BaseUpdate. nil means RegionMiddleware only.
	Middlewares []NPCMiddleware
	// Seed fixes the movement RNG; 0 seeds from the clock.
	Seed int64
}

// RegionFiring is one region trigger action, as delivered to observers and
// the on_region_* hooks.
type RegionFiring struct {
	MapID     int         `json:"map_id"`
	EventID   int         `json:"event_id"`
	EventName string      `json:"event_name"`
	Kind      region.Kind `json:"kind"`
	Region    int         `json:"region"`
	Target    int         `json:"target"`
	X         int         `json:"x"`
	Y         int         `json:"y"`
	Tick      uint64      `json:"tick"`
	At        time.Time   `json:"at"`
}

// CommonEventStart is the before_common_event hook payload.
type CommonEventStart struct {
	MapID         int
	CommonEventID int
}

// Observer receives region firings after the tick that produced them, in
// firing order, outside the room lock.
type Observer func(RegionFiring)

// MapRoom manages a single map instance with its own game loop.
type MapRoom struct {
	MapID       int
	mapWidth    int
	mapHeight   int
	mapData     *resource.MapData
	res         *resource.ResourceLoader
	state       *GameState
	passMap     *resource.PassabilityMap
	regionRestr *resource.RegionRestrictions
	opts        RoomOptions
	env         *interp.Env
	update      NPCUpdateFunc
	rng         *rand.Rand
	logger      *zap.Logger

	mu           sync.RWMutex
	npcs         []*NPCRuntime // sorted by EventID
	mapInterp    *interp.Interpreter
	runningCE    int
	tick         uint64
	stateVersion uint64
	// filled during a locked phase, drained after it
	firings    []RegionFiring
	pluginCmds []*interp.PluginCommand

	qmu      sync.Mutex
	reserved []int

	obsMu     sync.RWMutex
	observers []Observer

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewMapRoom creates a MapRoom but does not start the game loop. res and state
// may be nil in tests.
func NewMapRoom(mapID int, res *resource.ResourceLoader, state *GameState, opts RoomOptions, logger *zap.Logger) *MapRoom {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	room := &MapRoom{
		MapID:  mapID,
		res:    res,
		state:  state,
		opts:   opts,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.With(zap.Int("map_id", mapID)),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	room.env = &interp.Env{
		MapID:              mapID,
		Sandbox:            opts.Sandbox,
		Logger:             room.logger,
		ReserveCommonEvent: room.ReserveCommonEvent,
		OnPluginCommand:    func(pc *interp.PluginCommand) { room.pluginCmds = append(room.pluginCmds, pc) },
		TickRate:           room.tickRate(),
		StepBudget:         opts.StepBudget,
		Rand:               room.rng,
	}
	if state != nil {
		room.env.State = state
		room.stateVersion = state.Version()
	}
	if res != nil {
		room.env.CommonEvents = res
		room.passMap = res.Passability[mapID]
		room.regionRestr = res.RegionRestr
		if md, ok := res.Maps[mapID]; ok {
			room.mapData = md
			room.mapWidth = md.Width
			room.mapHeight = md.Height
		}
	}
	room.mapInterp = interp.New(room.env)

	mws := opts.Middlewares
	if mws == nil {
		mws = []NPCMiddleware{RegionMiddleware}
	}
	room.update = Chain(BaseUpdate, mws...)
	room.populateNPCs()
	return room
}

func (room *MapRoom) tickRate() int {
	rate := int(time.Second / room.opts.TickInterval)
	if rate < 1 {
		return 1
	}
	return rate
}

// stateReader returns the game state as a reader, or nil without a typed-nil
// interface when the room has none.
func (room *MapRoom) stateReader() GameStateReader {
	if room.state == nil {
		return nil
	}
	return room.state
}

// Run drives the game loop until ctx is done or Stop is called.
func (room *MapRoom) Run(ctx context.Context) {
	defer close(room.done)
	ticker := time.NewTicker(room.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			room.Step(ctx)
		case <-room.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop signals the game loop to exit.
func (room *MapRoom) Stop() {
	room.stopOnce.Do(func() { close(room.stopCh) })
}

// Done is closed when Run returns.
func (room *MapRoom) Done() <-chan struct{} { return room.done }

// Step runs one tick: the NPC update chain in event ID order, then the map
// interpreter with reserved common events, then page refresh. Hooks and
// observers run between phases, outside the room lock. A panic is logged and
// the tick abandoned.
func (room *MapRoom) Step(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			room.logger.Error("map tick panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	firings, cmds := room.stepNPCs(ctx)
	room.publish(ctx, firings, cmds)

	room.runReserved(ctx)

	cmds = room.stepRefresh()
	room.publish(ctx, nil, cmds)
}

func (room *MapRoom) stepNPCs(ctx context.Context) ([]RegionFiring, []*interp.PluginCommand) {
	room.mu.Lock()
	defer room.mu.Unlock()
	room.tick++
	tc := &TickContext{Ctx: ctx, Room: room, Tick: room.tick}
	for _, npc := range room.npcs {
		room.update(tc, npc)
	}
	return room.drainLocked()
}

func (room *MapRoom) stepRefresh() []*interp.PluginCommand {
	room.mu.Lock()
	defer room.mu.Unlock()
	changed := false
	if room.state != nil {
		if v := room.state.Version(); v != room.stateVersion {
			room.stateVersion = v
			changed = true
		}
	}
	if ids := room.refreshPages(changed); len(ids) > 0 {
		room.logger.Debug("pages refreshed", zap.Ints("event_ids", ids))
	}
	_, cmds := room.drainLocked()
	return cmds
}

func (room *MapRoom) drainLocked() ([]RegionFiring, []*interp.PluginCommand) {
	f, c := room.firings, room.pluginCmds
	room.firings, room.pluginCmds = nil, nil
	return f, c
}

// recordFiring logs a firing and buffers it for delivery after the tick.
func (room *MapRoom) recordFiring(tc *TickContext, npc *NPCRuntime, f region.Firing) {
	ev := RegionFiring{
		MapID:     room.MapID,
		EventID:   npc.EventID,
		EventName: npc.Name,
		Kind:      f.Kind,
		Region:    f.Region,
		Target:    f.Target,
		X:         npc.X,
		Y:         npc.Y,
		Tick:      tc.Tick,
		At:        time.Now(),
	}
	room.logger.Info("region firing",
		zap.Int("event_id", ev.EventID),
		zap.Stringer("kind", ev.Kind),
		zap.Int("region", ev.Region),
		zap.Int("target", ev.Target))
	room.firings = append(room.firings, ev)
}

func (room *MapRoom) publish(ctx context.Context, firings []RegionFiring, cmds []*interp.PluginCommand) {
	hooks := room.opts.Hooks
	if len(firings) > 0 {
		room.obsMu.RLock()
		observers := append([]Observer(nil), room.observers...)
		room.obsMu.RUnlock()
		for i := range firings {
			f := firings[i]
			for _, obs := range observers {
				obs(f)
			}
			name := hook.OnRegionPage
			if f.Kind == region.KindCommonEvent {
				name = hook.OnRegionCommonEvent
			}
			if _, err := hooks.Trigger(ctx, name, &f); err != nil {
				room.logger.Debug("region firing hook interrupted", zap.String("hook", name),
					zap.Int("event_id", f.EventID), zap.Error(err))
			}
		}
	}
	for _, pc := range cmds {
		if _, err := hooks.Trigger(ctx, hook.OnPluginCommand, pc); err != nil {
			room.logger.Debug("plugin command interrupted", zap.String("command", pc.Command), zap.Error(err))
		}
	}
}

// AddObserver registers fn for every future firing in this room.
func (room *MapRoom) AddObserver(fn Observer) {
	room.obsMu.Lock()
	room.observers = append(room.observers, fn)
	room.obsMu.Unlock()
}

// ---- Reserved common events ----

// ReserveCommonEvent appends id to the room's common event queue
// ($gameTemp.reserveCommonEvent). Safe from any goroutine, including event
// scripts running on the room goroutine.
func (room *MapRoom) ReserveCommonEvent(id int) {
	room.qmu.Lock()
	room.reserved = append(room.reserved, id)
	room.qmu.Unlock()
}

// Reserved returns the queued common event IDs in run order.
func (room *MapRoom) Reserved() []int {
	room.qmu.Lock()
	defer room.qmu.Unlock()
	return append([]int{}, room.reserved...)
}

func (room *MapRoom) popReserved() (int, bool) {
	room.qmu.Lock()
	defer room.qmu.Unlock()
	if len(room.reserved) == 0 {
		return 0, false
	}
	id := room.reserved[0]
	room.reserved = room.reserved[1:]
	return id, true
}

// RunningCommonEvent returns the common event the map interpreter is
// executing, or 0.
func (room *MapRoom) RunningCommonEvent() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	if !room.mapInterp.IsRunning() {
		return 0
	}
	return room.runningCE
}

// runReserved advances the map interpreter, starting the next reserved
// common event when it is idle. Unknown IDs and vetoed starts are dropped.
func (room *MapRoom) runReserved(ctx context.Context) {
	if room.continueMapInterp(ctx) {
		return
	}
	for {
		id, ok := room.popReserved()
		if !ok {
			return
		}
		ce := room.commonEvent(id)
		if ce == nil {
			room.logger.Warn("reserved common event not found", zap.Int("common_event_id", id))
			continue
		}
		_, err := room.opts.Hooks.Trigger(ctx, hook.BeforeCommonEvent, &CommonEventStart{MapID: room.MapID, CommonEventID: id})
		if errors.Is(err, hook.ErrInterrupt) {
			room.logger.Info("common event vetoed", zap.Int("common_event_id", id))
			continue
		}
		room.startMapInterp(ctx, id, ce.List)
		return
	}
}

func (room *MapRoom) continueMapInterp(ctx context.Context) bool {
	room.mu.Lock()
	defer room.mu.Unlock()
	if !room.mapInterp.IsRunning() {
		return false
	}
	room.mapInterp.Update(ctx)
	return true
}

func (room *MapRoom) startMapInterp(ctx context.Context, id int, list []*resource.EventCommand) {
	room.mu.Lock()
	defer room.mu.Unlock()
	room.runningCE = id
	room.mapInterp.Setup(list, 0)
	room.mapInterp.Update(ctx)
}

func (room *MapRoom) commonEvent(id int) *resource.CommonEvent {
	if room.res == nil {
		return nil
	}
	ce := room.res.CommonEvent(id)
	if ce == nil || len(ce.List) == 0 {
		return nil
	}
	return ce
}

// ---- Debug controls ----

// ForceMove steps an NPC one tile in dir, as a move route would. Returns
// false when the tile is blocked.
func (room *MapRoom) ForceMove(eventID, dir int) (bool, error) {
	room.mu.Lock()
	defer room.mu.Unlock()
	npc := room.npcByID(eventID)
	if npc == nil {
		return false, ErrNPCNotFound
	}
	if npc.IsMoving() {
		return false, ErrNPCMoving
	}
	return room.tryMoveNPC(npc, dir), nil
}

// Locate places an NPC on (x, y) without a step, like Set Event Location.
func (room *MapRoom) Locate(eventID, x, y int) error {
	room.mu.Lock()
	defer room.mu.Unlock()
	npc := room.npcByID(eventID)
	if npc == nil {
		return ErrNPCNotFound
	}
	npc.X, npc.Y = x, y
	npc.movingTicks = 0
	return nil
}

// Tick returns the number of ticks run so far.
func (room *MapRoom) Tick() uint64 {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return room.tick
}

// RegionAt returns the region ID of a tile on this map.
func (room *MapRoom) RegionAt(x, y int) int { return room.passMap.RegionAt(x, y) }

// Size returns the map dimensions in tiles.
func (room *MapRoom) Size() (int, int) { return room.mapWidth, room.mapHeight }
