package world

import (
	"context"

	"github.com/kasuganosora/rmmvregion/region"
)

// TickContext carries the per-tick collaborators into NPC updates.
type TickContext struct {
	Ctx  context.Context
	Room *MapRoom
	Tick uint64
}

// NPCUpdateFunc advances one NPC by one tick. It runs on the room goroutine
// with the room lock held.
type NPCUpdateFunc func(tc *TickContext, npc *NPCRuntime)

// NPCMiddleware wraps an NPCUpdateFunc with extra per-tick behavior.
type NPCMiddleware func(next NPCUpdateFunc) NPCUpdateFunc

// Chain composes middlewares around base. The first middleware is the
// outermost, so it runs first on every tick.
func Chain(base NPCUpdateFunc, mws ...NPCMiddleware) NPCUpdateFunc {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// BaseUpdate moves the NPC and advances its command cursor. Autorun and
// parallel pages restart their list when it finishes.
func BaseUpdate(tc *TickContext, npc *NPCRuntime) {
	tc.Room.updateMovement(npc)

	if !npc.cursor.IsRunning() && !npc.regionPage && isAutoTrigger(npc.ActivePage) {
		npc.cursor.Setup(npc.ActivePage.List, npc.EventID)
	}
	if npc.cursor.IsRunning() {
		npc.cursor.Update(tc.Ctx)
	}
}

// RegionMiddleware resolves region triggers before the wrapped update, on
// ticks where the NPC has settled on a tile.
func RegionMiddleware(next NPCUpdateFunc) NPCUpdateFunc {
	return func(tc *TickContext, npc *NPCRuntime) {
		room := tc.Room
		env := region.Env{
			Pages:      eventPages{ev: npc.MapEvent, mapID: room.MapID, state: room.stateReader()},
			Dispatcher: npcDispatcher{room: room, npc: npc},
		}
		if room.state != nil {
			env.Switches = room.state
		}
		for _, f := range npc.trigger.Tick(npc, room.passMap, env) {
			room.recordFiring(tc, npc, f)
		}
		next(tc, npc)
	}
}

// npcDispatcher carries out one NPC's firings against its room.
type npcDispatcher struct {
	room *MapRoom
	npc  *NPCRuntime
}

func (d npcDispatcher) ReserveCommonEvent(_, commonEventID int) {
	d.room.ReserveCommonEvent(commonEventID)
}

func (d npcDispatcher) ActivatePage(_, pageIndex int) {
	d.room.activatePage(d.npc, pageIndex, true)
}
