package world

import (
	"sort"

	"github.com/kasuganosora/rmmvregion/game/interp"
	"github.com/kasuganosora/rmmvregion/region"
	"github.com/kasuganosora/rmmvregion/resource"
	"go.uber.org/zap"
)

// GameStateReader is the read side of GameState used by page selection.
type GameStateReader interface {
	GetSwitch(id int) bool
	GetVariable(id int) int
	GetSelfSwitch(mapID, eventID int, ch string) bool
}

// NPCRuntime holds the server-side runtime state for a single map event.
// All fields are owned by the room goroutine; read them through snapshots.
type NPCRuntime struct {
	EventID    int
	Name       string
	X, Y       int                 // current position (may differ from MapEvent.X/Y after movement)
	Dir        int                 // current facing direction
	PageIndex  int                 // index into MapEvent.Pages, -1 when no page applies
	ActivePage *resource.EventPage // nil when PageIndex is -1
	MapEvent   *resource.MapEvent

	// Movement state
	moveTimer   int // ticks until next movement attempt
	routeIdx    int // current index in custom MoveRoute
	movingTicks int // ticks left until the current step settles

	cursor  *interp.Interpreter
	trigger *region.Trigger

	// regionPage marks a page set by a region firing rather than by selection.
	regionPage bool
	// stale is set when a state change arrived while the cursor was running.
	stale bool
}

// Position implements region.Agent.
func (n *NPCRuntime) Position() (int, int) { return n.X, n.Y }

// IsMoving implements region.Agent. An NPC is moving until its last step
// settles on the destination tile.
func (n *NPCRuntime) IsMoving() bool { return n.movingTicks > 0 }

// Trigger returns the NPC's region trigger.
func (n *NPCRuntime) Trigger() *region.Trigger { return n.trigger }

// CursorRunning reports whether the NPC's command cursor is executing.
func (n *NPCRuntime) CursorRunning() bool { return n.cursor != nil && n.cursor.IsRunning() }

func (n *NPCRuntime) moveSpeed() int {
	if n.ActivePage == nil || n.ActivePage.MoveSpeed < 1 {
		return 4
	}
	if n.ActivePage.MoveSpeed > 6 {
		return 6
	}
	return n.ActivePage.MoveSpeed
}

// stepTicks converts RMMV move speed into room ticks per tile. A character
// covers 2^speed/256 tiles per 60 fps frame.
func stepTicks(speed, tickRate int) int {
	frames := 256 >> speed
	return interp.FramesToTicks(frames, tickRate)
}

// isRegionPage reports whether page opens with a region condition comment.
// Such pages are only reachable through region firings.
func isRegionPage(page *resource.EventPage) bool {
	c, ok := page.LeadingComment()
	return ok && region.HasConditionTag(c)
}

// selectPage chooses the highest-index page whose conditions are met,
// skipping region-condition pages. RMMV convention: pages are checked from
// last to first; the first match wins. Returns -1 when nothing applies.
// actorValid and itemValid are skipped (server doesn't track per-player conditions).
func selectPage(ev *resource.MapEvent, mapID int, state GameStateReader) int {
	for i := len(ev.Pages) - 1; i >= 0; i-- {
		page := ev.Pages[i]
		if page == nil || isRegionPage(page) {
			continue
		}
		if state == nil || meetsConditions(&page.Conditions, mapID, ev.ID, state) {
			return i
		}
	}
	return -1
}

// meetsConditions checks whether all enabled conditions on a page are satisfied.
func meetsConditions(cond *resource.EventPageConditions, mapID, eventID int, state GameStateReader) bool {
	if cond.Switch1Valid && !state.GetSwitch(cond.Switch1ID) {
		return false
	}
	if cond.Switch2Valid && !state.GetSwitch(cond.Switch2ID) {
		return false
	}
	if cond.VariableValid && state.GetVariable(cond.VariableID) < cond.VariableValue {
		return false
	}
	if cond.SelfSwitchValid && !state.GetSelfSwitch(mapID, eventID, cond.SelfSwitchCh) {
		return false
	}
	return true
}

// eventPages exposes a MapEvent's pages to the region resolver.
type eventPages struct {
	ev    *resource.MapEvent
	mapID int
	state GameStateReader
}

func (p eventPages) PageCount() int { return len(p.ev.Pages) }

func (p eventPages) MeetsConditions(i int) bool {
	page := p.ev.Pages[i]
	if page == nil {
		return false
	}
	if p.state == nil {
		return true
	}
	return meetsConditions(&page.Conditions, p.mapID, p.ev.ID, p.state)
}

func (p eventPages) LeadingComment(i int) (string, bool) {
	page := p.ev.Pages[i]
	if page == nil {
		return "", false
	}
	return page.LeadingComment()
}

// isAutoTrigger reports pages whose list starts by itself and restarts when
// it finishes: autorun (3) and parallel (4).
func isAutoTrigger(page *resource.EventPage) bool {
	return page != nil && (page.Trigger == 3 || page.Trigger == 4)
}

// activatePage switches npc to page idx, discarding any running cursor.
// fromRegion pages run their list once from the start.
func (room *MapRoom) activatePage(npc *NPCRuntime, idx int, fromRegion bool) {
	npc.cursor.Clear()
	npc.PageIndex = idx
	npc.ActivePage = nil
	npc.regionPage = fromRegion
	npc.stale = false
	npc.routeIdx = 0
	npc.moveTimer = 0
	if idx >= 0 && idx < len(npc.MapEvent.Pages) {
		npc.ActivePage = npc.MapEvent.Pages[idx]
	}
	page := npc.ActivePage
	if page != nil {
		if page.Image.Direction > 0 && !page.DirectionFix {
			npc.Dir = page.Image.Direction
		}
		if fromRegion || isAutoTrigger(page) {
			npc.cursor.Setup(page.List, npc.EventID)
		}
	}
}

// populateNPCs creates NPCRuntime entries for all events on this map, in
// event ID order.
func (room *MapRoom) populateNPCs() {
	if room.mapData == nil {
		return
	}
	for _, ev := range room.mapData.Events {
		if ev == nil || len(ev.Pages) == 0 {
			continue
		}
		npc := &NPCRuntime{
			EventID:   ev.ID,
			Name:      ev.Name,
			X:         ev.X,
			Y:         ev.Y,
			Dir:       dirDown,
			PageIndex: -1,
			MapEvent:  ev,
			cursor:    interp.New(room.env),
			trigger:   region.NewTrigger(ev.Meta[region.MetaKey], room.opts.EnableSwitch),
		}
		room.activatePage(npc, selectPage(ev, room.MapID, room.stateReader()), false)
		room.npcs = append(room.npcs, npc)
		if _, ok := npc.trigger.Binding(); ok {
			room.logger.Debug("npc has region binding",
				zap.Int("map_id", room.MapID), zap.Int("event_id", ev.ID))
		}
	}
	sort.Slice(room.npcs, func(i, j int) bool { return room.npcs[i].EventID < room.npcs[j].EventID })
	room.logger.Info("populated NPCs",
		zap.Int("map_id", room.MapID),
		zap.Int("count", len(room.npcs)))
}

// refreshPages re-selects normal pages after a game state change. NPCs with
// a running cursor keep their page until the cursor finishes.
func (room *MapRoom) refreshPages(stateChanged bool) []int {
	var changed []int
	for _, n := range room.npcs {
		if !stateChanged && !n.stale {
			continue
		}
		if n.CursorRunning() {
			n.stale = true
			continue
		}
		n.stale = false
		idx := selectPage(n.MapEvent, room.MapID, room.stateReader())
		if idx == n.PageIndex && !n.regionPage {
			continue
		}
		room.activatePage(n, idx, false)
		changed = append(changed, n.EventID)
	}
	return changed
}

func (room *MapRoom) npcByID(eventID int) *NPCRuntime {
	i := sort.Search(len(room.npcs), func(i int) bool { return room.npcs[i].EventID >= eventID })
	if i < len(room.npcs) && room.npcs[i].EventID == eventID {
		return room.npcs[i]
	}
	return nil
}

// NPCSnapshot is the externally visible state of one NPC.
type NPCSnapshot struct {
	EventID     int          `json:"event_id"`
	Name        string       `json:"name"`
	X           int          `json:"x"`
	Y           int          `json:"y"`
	Dir         int          `json:"dir"`
	PageIndex   int          `json:"page_index"`
	RegionPage  bool         `json:"region_page"`
	Region      int          `json:"region"`
	Moving      bool         `json:"moving"`
	Running     bool         `json:"running"`
	CursorIndex int          `json:"cursor_index"`
	WalkName    string       `json:"walk_name"`
	MoveType    int          `json:"move_type"`
	Through     bool         `json:"through"`
	Binding     *BindingView `json:"binding,omitempty"`
	CommonArmed []int        `json:"common_armed"`
	PageArmed   []int        `json:"page_armed"`
}

// BindingView describes an NPC's common-event binding.
type BindingView struct {
	Region        int `json:"region"`
	CommonEventID int `json:"common_event_id"`
}

func armedList(a *region.ArmedState) []int {
	out := []int{}
	if tag, ok := a.Active(); ok {
		out = append(out, tag)
	}
	return out
}

func (room *MapRoom) snapshotNPC(n *NPCRuntime) NPCSnapshot {
	s := NPCSnapshot{
		EventID:     n.EventID,
		Name:        n.Name,
		X:           n.X,
		Y:           n.Y,
		Dir:         n.Dir,
		PageIndex:   n.PageIndex,
		RegionPage:  n.regionPage,
		Region:      room.passMap.RegionAt(n.X, n.Y),
		Moving:      n.IsMoving(),
		Running:     n.CursorRunning(),
		CursorIndex: n.cursor.Index(),
		CommonArmed: armedList(n.trigger.CommonEventArmed()),
		PageArmed:   armedList(n.trigger.PageArmed()),
	}
	if p := n.ActivePage; p != nil {
		s.WalkName = p.Image.CharacterName
		s.MoveType = p.MoveType
		s.Through = p.Through
	}
	if b, ok := n.trigger.Binding(); ok {
		s.Binding = &BindingView{Region: b.Region, CommonEventID: b.CommonEventID}
	}
	return s
}

// NPCSnapshot returns a snapshot of every NPC in event ID order.
func (room *MapRoom) NPCSnapshot() []NPCSnapshot {
	room.mu.RLock()
	defer room.mu.RUnlock()
	out := make([]NPCSnapshot, 0, len(room.npcs))
	for _, n := range room.npcs {
		out = append(out, room.snapshotNPC(n))
	}
	return out
}

// GetNPC returns a snapshot of one NPC.
func (room *MapRoom) GetNPC(eventID int) (NPCSnapshot, bool) {
	room.mu.RLock()
	defer room.mu.RUnlock()
	n := room.npcByID(eventID)
	if n == nil {
		return NPCSnapshot{}, false
	}
	return room.snapshotNPC(n), true
}

// NPCCount returns the number of NPCs on the map.
func (room *MapRoom) NPCCount() int {
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.npcs)
}
