package world

import (
	"context"
	"testing"

	"github.com/kasuganosora/rmmvregion/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- Chain ----

func TestChain_FirstMiddlewareOutermost(t *testing.T) {
	var order []string
	mw := func(name string) NPCMiddleware {
		return func(next NPCUpdateFunc) NPCUpdateFunc {
			return func(tc *TickContext, npc *NPCRuntime) {
				order = append(order, name)
				next(tc, npc)
			}
		}
	}
	base := func(tc *TickContext, npc *NPCRuntime) { order = append(order, "base") }

	Chain(base, mw("a"), mw("b"))(&TickContext{}, &NPCRuntime{})
	assert.Equal(t, []string{"a", "b", "base"}, order)
}

func TestChain_NoMiddleware(t *testing.T) {
	called := false
	Chain(func(*TickContext, *NPCRuntime) { called = true })(&TickContext{}, nil)
	assert.True(t, called)
}

func TestMapRoom_CustomMiddlewareSeesTick(t *testing.T) {
	f := newFixture(3, 3)
	f.addEvent(1, 0, 0, nil, fixedPage())
	f.addEvent(2, 1, 0, nil, fixedPage())
	var seen []int
	var ticks []uint64
	spy := func(next NPCUpdateFunc) NPCUpdateFunc {
		return func(tc *TickContext, npc *NPCRuntime) {
			seen = append(seen, npc.EventID)
			ticks = append(ticks, tc.Tick)
			next(tc, npc)
		}
	}
	room := f.room(RoomOptions{Middlewares: []NPCMiddleware{spy, RegionMiddleware}})

	stepN(room, 2)
	assert.Equal(t, []int{1, 2, 1, 2}, seen)
	assert.Equal(t, []uint64{1, 1, 2, 2}, ticks)
}

// ---- Page selection ----

func TestSelectPage_SkipsRegionPages(t *testing.T) {
	ev := &resource.MapEvent{ID: 1, Pages: []*resource.EventPage{fixedPage(), regionPage("3")}}
	assert.Equal(t, 0, selectPage(ev, testMapID, nil))
	assert.Equal(t, 0, selectPage(ev, testMapID, NewGameState(nil, nil)))
}

func TestSelectPage_MalformedRegionCommentStillExcluded(t *testing.T) {
	malformed := fixedPage()
	malformed.List = list(cmd(108, 0, "regionCondition without brackets"))
	ev := &resource.MapEvent{ID: 1, Pages: []*resource.EventPage{fixedPage(), malformed}}
	assert.Equal(t, 0, selectPage(ev, testMapID, nil))
}

func TestSelectPage_OnlyRegionPages(t *testing.T) {
	ev := &resource.MapEvent{ID: 1, Pages: []*resource.EventPage{regionPage("1"), regionPage("2")}}
	assert.Equal(t, -1, selectPage(ev, testMapID, nil))
}

func TestSelectPage_HighestMatchingPage(t *testing.T) {
	gs := NewGameState(nil, nil)
	p1 := fixedPage()
	p1.Conditions = resource.EventPageConditions{Switch1Valid: true, Switch1ID: 1}
	p2 := fixedPage()
	p2.Conditions = resource.EventPageConditions{VariableValid: true, VariableID: 2, VariableValue: 5}
	p3 := fixedPage()
	p3.Conditions = resource.EventPageConditions{SelfSwitchValid: true, SelfSwitchCh: "A"}
	ev := &resource.MapEvent{ID: 4, Pages: []*resource.EventPage{fixedPage(), p1, p2, p3}}

	assert.Equal(t, 0, selectPage(ev, testMapID, gs))
	gs.SetSwitch(1, true)
	assert.Equal(t, 1, selectPage(ev, testMapID, gs))
	gs.SetVariable(2, 4)
	assert.Equal(t, 1, selectPage(ev, testMapID, gs))
	gs.SetVariable(2, 5)
	assert.Equal(t, 2, selectPage(ev, testMapID, gs))
	gs.SetSelfSwitch(testMapID, 4, "A", true)
	assert.Equal(t, 3, selectPage(ev, testMapID, gs))
	assert.Equal(t, 2, selectPage(ev, testMapID+1, gs), "self switches are per map")
}

func TestSelectPage_NoMatch(t *testing.T) {
	p := fixedPage()
	p.Conditions = resource.EventPageConditions{Switch2Valid: true, Switch2ID: 9}
	ev := &resource.MapEvent{ID: 1, Pages: []*resource.EventPage{p}}
	assert.Equal(t, -1, selectPage(ev, testMapID, NewGameState(nil, nil)))
}

func TestPopulateNPCs_SortedAndSkipsEmpty(t *testing.T) {
	f := newFixture(5, 5)
	f.addEvent(4, 1, 1, nil, fixedPage())
	f.addEvent(2, 2, 2, nil, fixedPage())
	f.addEvent(3, 3, 3, nil)
	room := f.room(RoomOptions{})

	require.Equal(t, 2, room.NPCCount())
	snaps := room.NPCSnapshot()
	assert.Equal(t, 2, snaps[0].EventID)
	assert.Equal(t, 4, snaps[1].EventID)
}

func TestActivatePage_SetsDirectionUnlessFixed(t *testing.T) {
	f := newFixture(3, 3)
	p := fixedPage()
	p.Image.Direction = dirLeft
	p.Image.CharacterName = "People1"
	f.addEvent(1, 0, 0, nil, p)
	q := fixedPage()
	q.Image.Direction = dirUp
	q.DirectionFix = true
	f.addEvent(2, 1, 0, nil, q)
	room := f.room(RoomOptions{})

	a, _ := room.GetNPC(1)
	assert.Equal(t, dirLeft, a.Dir)
	assert.Equal(t, "People1", a.WalkName)
	b, _ := room.GetNPC(2)
	assert.Equal(t, dirDown, b.Dir)
}

// ---- Movement ----

func TestStepTicks(t *testing.T) {
	assert.Equal(t, 6, stepTicks(4, 20))
	assert.Equal(t, 2, stepTicks(6, 20))
	assert.Equal(t, 43, stepTicks(1, 20))
	assert.Equal(t, 16, stepTicks(4, 60))
}

func TestForceMove_Blocked(t *testing.T) {
	f := newFixture(3, 3)
	f.addEvent(1, 0, 0, nil, fixedPage())
	room := f.room(RoomOptions{})

	moved, err := room.ForceMove(1, dirLeft)
	require.NoError(t, err)
	assert.False(t, moved)
	snap, _ := room.GetNPC(1)
	assert.Equal(t, 0, snap.X)
	assert.Equal(t, dirLeft, snap.Dir, "a blocked move still turns")
	assert.False(t, snap.Moving)
}

func TestForceMove_WhileMoving(t *testing.T) {
	f := newFixture(3, 3)
	f.addEvent(1, 0, 0, nil, fixedPage())
	room := f.room(RoomOptions{})

	_, err := room.ForceMove(1, dirRight)
	require.NoError(t, err)
	_, err = room.ForceMove(1, dirRight)
	assert.ErrorIs(t, err, ErrNPCMoving)
}

func TestForceMove_ImpassableTile(t *testing.T) {
	f := newFixture(3, 3)
	f.pm.SetPass(1, 0, dirLeft, false)
	f.addEvent(1, 0, 0, nil, fixedPage())
	room := f.room(RoomOptions{})

	moved, err := room.ForceMove(1, dirRight)
	require.NoError(t, err)
	assert.False(t, moved, "destination cannot be entered from the left")
}

func TestForceMove_ThroughIgnoresPassability(t *testing.T) {
	f := newFixture(3, 3)
	f.pm.SetPass(0, 0, dirRight, false)
	p := fixedPage()
	p.Through = true
	f.addEvent(1, 0, 0, nil, p)
	room := f.room(RoomOptions{})

	moved, err := room.ForceMove(1, dirRight)
	require.NoError(t, err)
	assert.True(t, moved)

	stepN(room, 10)
	moved, err = room.ForceMove(1, dirUp)
	require.NoError(t, err)
	assert.False(t, moved, "bounds still apply")
}

func TestForceMove_SamePriorityCollision(t *testing.T) {
	f := newFixture(3, 3)
	f.addEvent(1, 0, 0, nil, fixedPage())
	f.addEvent(2, 1, 0, nil, fixedPage())
	below := fixedPage()
	below.PriorityType = 0
	f.addEvent(3, 0, 1, nil, below)
	room := f.room(RoomOptions{})

	moved, _ := room.ForceMove(1, dirRight)
	assert.False(t, moved)
	moved, _ = room.ForceMove(1, dirDown)
	assert.True(t, moved)
}

func TestForceMove_RegionRestrictions(t *testing.T) {
	f := newFixture(4, 1)
	f.pm.SetRegion(1, 0, 9)
	f.pm.SetRegion(2, 0, 8)
	f.pm.SetPass(2, 0, dirLeft, false)
	f.res.RegionRestr = &resource.RegionRestrictions{EventRestrict: []int{9}, EventAllow: []int{8}}
	f.addEvent(1, 0, 0, nil, fixedPage())
	f.addEvent(2, 1, 0, nil, func() *resource.EventPage { p := fixedPage(); p.Through = true; return p }())
	room := f.room(RoomOptions{})

	moved, _ := room.ForceMove(1, dirRight)
	assert.False(t, moved, "region 9 blocks events")

	moved, _ = room.ForceMove(2, dirRight)
	assert.True(t, moved)
	require.NoError(t, room.Locate(2, 3, 0))
	require.NoError(t, room.Locate(1, 1, 0))
	stepN(room, 1)
	moved, _ = room.ForceMove(1, dirRight)
	assert.True(t, moved, "region 8 skips tile passability")
}

func TestMovement_RandomEventuallyMoves(t *testing.T) {
	f := newFixture(5, 5)
	p := fixedPage()
	p.MoveType = 1
	p.MoveFrequency = 5
	f.addEvent(1, 2, 2, nil, p)
	room := f.room(RoomOptions{Seed: 42})

	wandered := false
	for i := 0; i < 100 && !wandered; i++ {
		room.Step(context.Background())
		snap, _ := room.GetNPC(1)
		wandered = snap.X != 2 || snap.Y != 2
	}
	assert.True(t, wandered)
}

func TestMovement_CustomRoute(t *testing.T) {
	f := newFixture(5, 1)
	p := fixedPage()
	p.MoveType = 3
	p.MoveFrequency = 5
	p.MoveRoute = &resource.MoveRoute{List: []*resource.MoveCommand{
		{Code: moveRouteRight}, {Code: moveRouteRight}, {Code: moveRouteTurnUp}, {Code: moveRouteEnd},
	}}
	f.addEvent(1, 0, 0, nil, p)
	room := f.room(RoomOptions{})

	stepN(room, 200)
	snap, _ := room.GetNPC(1)
	assert.Equal(t, 2, snap.X)
	assert.Equal(t, dirUp, snap.Dir)
}

func TestMovement_RegionFiresWhenRouteArrives(t *testing.T) {
	f := newFixture(5, 1)
	f.pm.SetRegion(2, 0, 6)
	p := fixedPage()
	p.MoveType = 3
	p.MoveFrequency = 5
	p.MoveRoute = &resource.MoveRoute{List: []*resource.MoveCommand{
		{Code: moveRouteRight}, {Code: moveRouteRight}, {Code: moveRouteEnd},
	}}
	f.addEvent(1, 0, 0, bindingMeta("6, 3"), p)
	f.addCommonEvent(3, switchOn(2))
	room := f.room(RoomOptions{})
	got := collect(room)

	stepN(room, 200)
	require.Len(t, *got, 1)
	assert.Equal(t, 2, (*got)[0].X)
	assert.True(t, f.state.GetSwitch(2))
}

func TestValidDir(t *testing.T) {
	for _, d := range []int{2, 4, 6, 8} {
		assert.True(t, ValidDir(d))
	}
	assert.False(t, ValidDir(5))
	assert.Equal(t, dirUp, reverseDir(dirDown))
	assert.Equal(t, dirLeft, reverseDir(dirRight))
}

func TestNPCSnapshot_RegionUnderNPC(t *testing.T) {
	f := newFixture(3, 3)
	f.pm.SetRegion(1, 1, 5)
	f.addEvent(1, 1, 1, nil, fixedPage())
	room := f.room(RoomOptions{})
	room.Step(context.Background())

	snap, _ := room.GetNPC(1)
	assert.Equal(t, 5, snap.Region)
	assert.Nil(t, snap.Binding)
	assert.Empty(t, snap.CommonArmed)
}
