package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/rmmvregion/api/rest"
	"github.com/kasuganosora/rmmvregion/audit"
	"github.com/kasuganosora/rmmvregion/cache"
	"github.com/kasuganosora/rmmvregion/config"
	"github.com/kasuganosora/rmmvregion/game/interp"
	"github.com/kasuganosora/rmmvregion/game/world"
	mw "github.com/kasuganosora/rmmvregion/middleware"
	"github.com/kasuganosora/rmmvregion/region"
	"github.com/kasuganosora/rmmvregion/resource"
	"github.com/kasuganosora/rmmvregion/scheduler"
	"github.com/kasuganosora/rmmvregion/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testAdminKey = "let-me-in"
	testMapID    = 1
)

var (
	hashOnce  sync.Once
	adminHash string
)

func testAdminHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := mw.HashAdminKey(testAdminKey)
		require.NoError(t, err)
		adminHash = h
	})
	return adminHash
}

func cmd(code int, params ...interface{}) *resource.EventCommand {
	return &resource.EventCommand{Code: code, Parameters: params}
}

// testResources builds a 5x3 map with region 3 at (2,1) and a guard at (1,1)
// bound to common event 7, which turns switch 10 on.
func testResources() *resource.ResourceLoader {
	pm := resource.NewPassabilityMap(5, 3)
	pm.SetRegion(2, 1, 3)
	guard := &resource.MapEvent{
		ID: 1, Name: "Guard", X: 1, Y: 1,
		Meta: map[string]string{region.MetaKey: "3, 7"},
		Pages: []*resource.EventPage{{
			MoveSpeed: 4, MoveFrequency: 3, PriorityType: 1,
			List: []*resource.EventCommand{cmd(interp.CmdEnd)},
		}},
	}
	return &resource.ResourceLoader{
		Maps: map[int]*resource.MapData{
			testMapID: {ID: testMapID, Width: 5, Height: 3, Events: []*resource.MapEvent{nil, guard}},
		},
		Passability: map[int]*resource.PassabilityMap{testMapID: pm},
		CommonEvents: []*resource.CommonEvent{nil, nil, nil, nil, nil, nil, nil, {
			ID: 7, List: []*resource.EventCommand{
				cmd(interp.CmdChangeSwitches, 10, 10, 0),
				cmd(interp.CmdEnd),
			},
		}},
	}
}

type testEnv struct {
	r     *gin.Engine
	wm    *world.WorldManager
	audit *audit.Service
	sched *scheduler.Scheduler
	cache cache.Cache
	sec   config.SecurityConfig
}

type envOption func(*config.SecurityConfig)

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{
		AdminKeyHash: testAdminHash(t),
		JWTSecret:    "test-secret",
		JWTTTLH:      time.Hour,
	}
	for _, o := range opts {
		o(&sec)
	}

	state := world.NewGameState(db, zap.NewNop())
	wm := world.NewWorldManager(testResources(), state, world.RoomOptions{
		TickInterval: 2 * time.Millisecond,
		Seed:         1,
	}, zap.NewNop())
	auditSvc := audit.New(db, c, ps, audit.Options{FlushInterval: 10 * time.Millisecond}, zap.NewNop())
	wm.AddObserver(auditSvc.Observe)
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(func() {
		wm.StopAll()
		sched.Stop()
		auditSvc.Stop(context.Background())
	})

	r := gin.New()
	apirest.Register(r, apirest.Deps{
		Cache:     c,
		Security:  sec,
		World:     wm,
		Audit:     auditSvc,
		Scheduler: sched,
		Logger:    zap.NewNop(),
	})
	return &testEnv{r: r, wm: wm, audit: auditSvc, sched: sched, cache: c, sec: sec}
}

// doJSON sends body (nil for none) as JSON. An empty token sends no
// Authorization header.
func (e *testEnv) doJSON(method, path string, body interface{}, token string, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

// login exchanges the admin key for a token.
func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	w := e.doJSON(http.MethodPost, "/api/auth/token", nil, "", apirest.AdminKeyHeader, testAdminKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
