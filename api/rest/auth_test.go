package rest_test

import (
	"context"
	"net/http"
	"testing"

	apirest "github.com/kasuganosora/rmmvregion/api/rest"
	"github.com/kasuganosora/rmmvregion/config"
	mw "github.com/kasuganosora/rmmvregion/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	e := newEnv(t)
	w := e.doJSON(http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestToken_DisabledWithoutHash(t *testing.T) {
	e := newEnv(t, func(sec *config.SecurityConfig) { sec.AdminKeyHash = "" })
	w := e.doJSON(http.MethodPost, "/api/auth/token", nil, "", apirest.AdminKeyHeader, testAdminKey)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestToken_WrongKey(t *testing.T) {
	e := newEnv(t)
	w := e.doJSON(http.MethodPost, "/api/auth/token", nil, "", apirest.AdminKeyHeader, "guess")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.doJSON(http.MethodPost, "/api/auth/token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestToken_IssuesSession(t *testing.T) {
	e := newEnv(t)
	w := e.doJSON(http.MethodPost, "/api/auth/token", map[string]string{"operator": "alice"}, "",
		apirest.AdminKeyHeader, testAdminKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode(t, w)
	assert.Equal(t, "alice", resp["operator"])

	claims, err := mw.ParseToken(resp["token"].(string), e.sec.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)

	exists, err := e.cache.Exists(context.Background(), mw.SessionKey(claims.ID))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestToken_DefaultOperator(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)
	claims, err := mw.ParseToken(token, e.sec.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Operator)
}

func TestToken_OperatorTooLong(t *testing.T) {
	e := newEnv(t)
	long := "abcdefghijklmnopqrstuvwxyz0123456789"
	w := e.doJSON(http.MethodPost, "/api/auth/token", map[string]string{"operator": long}, "",
		apirest.AdminKeyHeader, testAdminKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtected_RequiresToken(t *testing.T) {
	e := newEnv(t)
	w := e.doJSON(http.MethodGet, "/api/metrics", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.doJSON(http.MethodGet, "/api/metrics", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_RevokesToken(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	w := e.doJSON(http.MethodGet, "/api/metrics", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.doJSON(http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.doJSON(http.MethodGet, "/api/metrics", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh_RotatesSession(t *testing.T) {
	e := newEnv(t)
	old := e.login(t)

	w := e.doJSON(http.MethodPost, "/api/auth/refresh", nil, old)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fresh := decode(t, w)["token"].(string)
	assert.NotEqual(t, old, fresh)

	assert.Equal(t, http.StatusUnauthorized, e.doJSON(http.MethodGet, "/api/metrics", nil, old).Code)
	assert.Equal(t, http.StatusOK, e.doJSON(http.MethodGet, "/api/metrics", nil, fresh).Code)
}

func TestIPWhitelist_GuardsAPI(t *testing.T) {
	e := newEnv(t, func(sec *config.SecurityConfig) { sec.AllowedIPs = []string{"10.1.0.0/16"} })
	token := e.login(t)

	// httptest requests come from 192.0.2.1.
	w := e.doJSON(http.MethodGet, "/api/metrics", nil, token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
