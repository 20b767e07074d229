package world

// RMMV MoveFrequency → tick interval mapping at 20 TPS.
// MoveFrequency 1 (lowest) to 5 (highest). Scaled for other tick rates.
var moveFreqTicks = [6]int{
	0,   // 0: unused
	120, // 1: lowest, 6 seconds
	90,  // 2: lower, 4.5 seconds
	60,  // 3: normal, 3 seconds
	30,  // 4: higher, 1.5 seconds
	10,  // 5: highest, 0.5 seconds
}

// RMMV directions
const (
	dirDown  = 2
	dirLeft  = 4
	dirRight = 6
	dirUp    = 8
)

var directions = [4]int{dirDown, dirLeft, dirRight, dirUp}

// ValidDir reports whether dir is one of the four RMMV directions.
func ValidDir(dir int) bool {
	return dir == dirDown || dir == dirLeft || dir == dirRight || dir == dirUp
}

// dx/dy for each direction.
func dirDelta(dir int) (dx, dy int) {
	switch dir {
	case dirDown:
		return 0, 1
	case dirLeft:
		return -1, 0
	case dirRight:
		return 1, 0
	case dirUp:
		return 0, -1
	}
	return 0, 0
}

// updateMovement advances an NPC's step, then its autonomous movement.
func (room *MapRoom) updateMovement(npc *NPCRuntime) {
	if npc.movingTicks > 0 {
		npc.movingTicks--
		return
	}
	if npc.ActivePage == nil {
		return
	}
	moveType := npc.ActivePage.MoveType
	if moveType == 0 {
		return // fixed
	}

	npc.moveTimer--
	if npc.moveTimer > 0 {
		return
	}
	npc.moveTimer = room.nextMoveDelay(npc.ActivePage.MoveFrequency)

	switch moveType {
	case 1, 2:
		// Approach targets the player; with no player on the server it
		// wanders like random.
		room.moveNPCRandom(npc)
	case 3:
		room.moveNPCCustomRoute(npc)
	}
}

// nextMoveDelay returns the ticks until the next autonomous move, with ±25%
// jitter so NPCs do not move in lockstep.
func (room *MapRoom) nextMoveDelay(freq int) int {
	if freq < 1 {
		freq = 3
	}
	if freq > 5 {
		freq = 5
	}
	baseTicks := moveFreqTicks[freq] * room.tickRate() / 20
	if baseTicks < 1 {
		baseTicks = 1
	}
	jitter := baseTicks / 4
	return baseTicks - jitter + room.rng.Intn(jitter*2+1)
}

// moveNPCRandom moves an NPC in a random direction.
func (room *MapRoom) moveNPCRandom(npc *NPCRuntime) {
	room.tryMoveNPC(npc, directions[room.rng.Intn(4)])
}

// RMMV move route command codes.
const (
	moveRouteEnd       = 0
	moveRouteDown      = 1
	moveRouteLeft      = 2
	moveRouteRight     = 3
	moveRouteUp        = 4
	moveRouteTurnDown  = 35
	moveRouteTurnLeft  = 36
	moveRouteTurnRight = 37
	moveRouteTurnUp    = 38
)

// moveNPCCustomRoute executes the next command in a custom move route.
func (room *MapRoom) moveNPCCustomRoute(npc *NPCRuntime) {
	route := npc.ActivePage.MoveRoute
	if route == nil || len(route.List) == 0 {
		return
	}
	if npc.routeIdx >= len(route.List) {
		npc.routeIdx = len(route.List) - 1
	}

	cmd := route.List[npc.routeIdx]
	if cmd != nil {
		switch cmd.Code {
		case moveRouteEnd:
			if route.Repeat {
				npc.routeIdx = 0
			}
			return
		case moveRouteDown:
			room.tryMoveNPC(npc, dirDown)
		case moveRouteLeft:
			room.tryMoveNPC(npc, dirLeft)
		case moveRouteRight:
			room.tryMoveNPC(npc, dirRight)
		case moveRouteUp:
			room.tryMoveNPC(npc, dirUp)
		case moveRouteTurnDown:
			room.turnNPC(npc, dirDown)
		case moveRouteTurnLeft:
			room.turnNPC(npc, dirLeft)
		case moveRouteTurnRight:
			room.turnNPC(npc, dirRight)
		case moveRouteTurnUp:
			room.turnNPC(npc, dirUp)
		}
	}

	npc.routeIdx++
	if npc.routeIdx >= len(route.List) {
		if route.Repeat {
			npc.routeIdx = 0
		} else {
			npc.routeIdx = len(route.List) - 1
		}
	}
}

func (room *MapRoom) turnNPC(npc *NPCRuntime, dir int) {
	if npc.ActivePage != nil && npc.ActivePage.DirectionFix {
		return
	}
	npc.Dir = dir
}

// reverseDir returns the opposite RMMV direction.
func reverseDir(dir int) int {
	switch dir {
	case dirDown:
		return dirUp
	case dirUp:
		return dirDown
	case dirLeft:
		return dirRight
	case dirRight:
		return dirLeft
	}
	return dir
}

// canMoveNPC reports whether the NPC may step one tile in dir.
//
// Checks (in order, matching RMMV + YEP_RegionRestrictions):
//  1. Bounds check (always enforced, even for Through NPCs)
//  2. Through flag skips all passability/region/collision checks
//  3. Region restrictions on the destination: forbid overrides everything
//  4. Region allow on the destination skips the tile passability check
//  5. Tile passability (source AND destination in reverse direction)
//  6. NPC-NPC collision at the same priority
func (room *MapRoom) canMoveNPC(npc *NPCRuntime, dir int) bool {
	dx, dy := dirDelta(dir)
	if dx == 0 && dy == 0 {
		return false
	}
	nx, ny := npc.X+dx, npc.Y+dy

	w, h := room.mapWidth, room.mapHeight
	if room.passMap != nil {
		w, h = room.passMap.Width, room.passMap.Height
	}
	if w <= 0 || h <= 0 || nx < 0 || nx >= w || ny < 0 || ny >= h {
		return false
	}

	if npc.ActivePage != nil && npc.ActivePage.Through {
		return true
	}

	if room.passMap != nil {
		regionAllowed := false
		if rr := room.regionRestr; rr != nil {
			destRegion := room.passMap.RegionAt(nx, ny)
			if rr.IsEventRestricted(destRegion) {
				return false
			}
			regionAllowed = rr.IsEventAllowed(destRegion)
		}
		if !regionAllowed {
			if !room.passMap.CanPass(npc.X, npc.Y, dir) {
				return false
			}
			if !room.passMap.CanPass(nx, ny, reverseDir(dir)) {
				return false
			}
		}
	}

	if npc.ActivePage != nil && npc.ActivePage.PriorityType == 1 {
		for _, other := range room.npcs {
			if other == npc || other.ActivePage == nil {
				continue
			}
			if other.ActivePage.PriorityType == 1 && !other.ActivePage.Through &&
				other.X == nx && other.Y == ny {
				return false
			}
		}
	}
	return true
}

// tryMoveNPC attempts to move an NPC one tile in the given direction and
// starts its step. Returns true if the move succeeded. A blocked move still
// turns the NPC to face dir.
func (room *MapRoom) tryMoveNPC(npc *NPCRuntime, dir int) bool {
	if !room.canMoveNPC(npc, dir) {
		room.turnNPC(npc, dir)
		return false
	}
	dx, dy := dirDelta(dir)
	npc.X += dx
	npc.Y += dy
	if npc.ActivePage == nil || !npc.ActivePage.DirectionFix {
		npc.Dir = dir
	}
	npc.movingTicks = stepTicks(npc.moveSpeed(), room.tickRate())
	return true
}
