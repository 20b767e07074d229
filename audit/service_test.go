package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kasuganosora/rmmvregion/game/world"
	"github.com/kasuganosora/rmmvregion/model"
	"github.com/kasuganosora/rmmvregion/region"
	"github.com/kasuganosora/rmmvregion/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func firing(mapID, eventID int, kind region.Kind) world.RegionFiring {
	return world.RegionFiring{
		MapID: mapID, EventID: eventID, EventName: "Guard", Kind: kind,
		Region: 3, Target: 7, X: 4, Y: 5, Tick: 12, At: time.Now(),
	}
}

func TestNew_StartsWorker(t *testing.T) {
	svc := New(nil, nil, nil, Options{}, zap.NewNop())
	require.NotNil(t, svc)
	svc.Stop(context.Background())
	svc.Stop(context.Background())
}

func TestObserve_FlushedOnStop(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nil, nil, Options{FlushInterval: time.Hour}, zap.NewNop())

	svc.Observe(firing(1, 2, region.KindCommonEvent))
	svc.Observe(firing(1, 3, region.KindPage))
	svc.Stop(context.Background())

	var rows []model.RegionFiring
	require.NoError(t, db.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "common_event", rows[0].Kind)
	assert.Equal(t, "page", rows[1].Kind)
	assert.Equal(t, 3, rows[0].RegionID)
	assert.Equal(t, 7, rows[0].Target)
	assert.Len(t, rows[0].TraceID, 36)
	assert.NotEqual(t, rows[0].TraceID, rows[1].TraceID)

	var detail map[string]interface{}
	require.NoError(t, json.Unmarshal(rows[0].Detail, &detail))
	assert.Equal(t, "Guard", detail["event_name"])
}

func TestObserve_BatchSizeTriggersWrite(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nil, nil, Options{FlushInterval: time.Hour, BatchSize: 2}, zap.NewNop())
	defer svc.Stop(context.Background())

	svc.Observe(firing(1, 1, region.KindPage))
	svc.Observe(firing(1, 2, region.KindPage))

	assert.Eventually(t, func() bool {
		var n int64
		db.Model(&model.RegionFiring{}).Count(&n)
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecent_CappedAndNewestFirst(t *testing.T) {
	c, _ := testutil.SetupTestCache(t)
	svc := New(nil, c, nil, Options{LogSize: 3}, zap.NewNop())

	for i := 1; i <= 5; i++ {
		svc.Observe(firing(9, i, region.KindCommonEvent))
	}
	svc.Observe(firing(8, 100, region.KindCommonEvent))
	svc.Stop(context.Background())

	ctx := context.Background()
	recs, err := svc.Recent(ctx, 9, 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []int{5, 4, 3}, []int{recs[0].EventID, recs[1].EventID, recs[2].EventID})

	recs, err = svc.Recent(ctx, 9, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 5, recs[0].EventID)

	total, err := svc.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
}

func TestRecent_NoCache(t *testing.T) {
	svc := New(nil, nil, nil, Options{}, zap.NewNop())
	defer svc.Stop(context.Background())

	recs, err := svc.Recent(context.Background(), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	total, err := svc.Total(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestObserve_Published(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, unsub, err := ps.Subscribe(ctx, ChannelFirings)
	require.NoError(t, err)
	defer unsub()

	svc := New(nil, nil, ps, Options{}, zap.NewNop())
	defer svc.Stop(context.Background())
	svc.Observe(firing(2, 6, region.KindPage))

	select {
	case msg := <-msgs:
		var rec Record
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &rec))
		assert.Equal(t, 2, rec.MapID)
		assert.Equal(t, 6, rec.EventID)
		assert.Equal(t, "page", rec.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("firing not published")
	}
}

func TestQuery_FiltersByMap(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, nil, nil, Options{}, zap.NewNop())
	svc.Observe(firing(1, 1, region.KindPage))
	svc.Observe(firing(2, 2, region.KindPage))
	svc.Observe(firing(1, 3, region.KindPage))
	svc.Stop(context.Background())

	rows, err := svc.Query(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 3, rows[0].EventID)

	rows, err = svc.Query(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestLogKey(t *testing.T) {
	assert.Equal(t, "region:log:12", LogKey(12))
}
