package world

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/rmmvregion/plugin/hook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(f *fixture, hooks *hook.HookCenter) *WorldManager {
	opts := RoomOptions{TickInterval: 2 * time.Millisecond, Hooks: hooks, Seed: 1}
	return NewWorldManager(f.res, f.state, opts, zap.NewNop())
}

func TestWorldManager_UnknownMap(t *testing.T) {
	wm := newTestManager(newFixture(3, 3), nil)
	_, err := wm.GetOrCreate(context.Background(), 404)
	assert.ErrorIs(t, err, ErrMapNotFound)
	assert.Equal(t, 0, wm.ActiveRoomCount())
}

func TestWorldManager_GetOrCreateReusesRoom(t *testing.T) {
	hooks := hook.NewHookCenter()
	var mu sync.Mutex
	var events []string
	record := func(_ context.Context, event string, data interface{}) (interface{}, error) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
		assert.Equal(t, testMapID, data)
		return data, nil
	}
	hooks.Register(hook.OnMapOpen, 0, "t", record)
	hooks.Register(hook.OnMapClose, 0, "t", record)

	wm := newTestManager(newFixture(3, 3), hooks)
	defer wm.StopAll()
	ctx := context.Background()

	a, err := wm.GetOrCreate(ctx, testMapID)
	require.NoError(t, err)
	b, err := wm.GetOrCreate(ctx, testMapID)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Same(t, a, wm.Get(testMapID))
	assert.Equal(t, []int{testMapID}, wm.Rooms())

	assert.True(t, wm.Destroy(ctx, testMapID))
	assert.False(t, wm.Destroy(ctx, testMapID))
	assert.Nil(t, wm.Get(testMapID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{hook.OnMapOpen, hook.OnMapClose}, events)
}

func TestWorldManager_ObserversReachRooms(t *testing.T) {
	f := newFixture(5, 3)
	f.pm.SetRegion(2, 1, 3)
	f.addEvent(1, 1, 1, bindingMeta("3, 7"), fixedPage())
	f.addCommonEvent(7, switchOn(10))
	wm := newTestManager(f, nil)
	defer wm.StopAll()

	var mu sync.Mutex
	var got []RegionFiring
	wm.AddObserver(func(fired RegionFiring) {
		mu.Lock()
		got = append(got, fired)
		mu.Unlock()
	})

	room, err := wm.GetOrCreate(context.Background(), testMapID)
	require.NoError(t, err)
	moved, err := room.ForceMove(1, dirRight)
	require.NoError(t, err)
	require.True(t, moved)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return wm.GameState().GetSwitch(10) }, 2*time.Second, 5*time.Millisecond)
}

func TestWorldManager_StopAll(t *testing.T) {
	f := newFixture(3, 3)
	f.res.Maps[2] = f.res.Maps[testMapID]
	wm := newTestManager(f, nil)

	a, err := wm.GetOrCreate(context.Background(), testMapID)
	require.NoError(t, err)
	b, err := wm.GetOrCreate(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, wm.ActiveRoomCount())

	wm.StopAll()
	assert.Equal(t, 0, wm.ActiveRoomCount())
	<-a.Done()
	<-b.Done()
}
