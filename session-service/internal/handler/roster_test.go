package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/campaign-live/pkg/database"
	"github.com/weiawesome/campaign-live/pkg/middleware"
	"github.com/weiawesome/campaign-live/session-service/internal/campaign"
	"github.com/weiawesome/campaign-live/session-service/internal/hub"
	"github.com/weiawesome/campaign-live/session-service/internal/presence"
	"github.com/weiawesome/campaign-live/session-service/internal/repository"
)

// asUser stands in for the auth middleware, taking the caller from a
// plain header.
func asUser(c *gin.Context) {
	if id := c.GetHeader("X-User"); id != "" {
		c.Set(middleware.UserIDKey, id)
	}
}

func newRosterEngine(t *testing.T, breaker func() gobreaker.State) (*gin.Engine, *campaign.GormStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(&database.Config{Driver: "sqlite"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, append(campaign.Models(), repository.Models()...)...))

	store := campaign.NewGormStore(db)
	h := hub.NewHub()
	handler := NewHTTPHandler(store, repository.NewGormMessageStore(db, repository.NewIDGenerator()), presence.NewTracker(h), h.SessionCount, "node-test").
		WithRoster(campaign.NewRoster(store, nil))
	if breaker != nil {
		handler.WithBreaker("campaign-oracle", breaker)
	}

	engine := gin.New()
	handler.RegisterRoutes(engine, asUser)
	return engine, store
}

func call(engine *gin.Engine, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-User", user)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestRosterRoutes(t *testing.T) {
	engine, store := newRosterEngine(t, nil)
	ctx := t.Context()

	w := call(engine, http.MethodPost, "/api/v1/campaigns", "gm", `{"id":"42","name":"Curse of Strahd"}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	gm, err := store.GMUserID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "gm", gm)

	w = call(engine, http.MethodPost, "/api/v1/campaigns", "bob", `{"id":"42","name":"Stolen"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	w = call(engine, http.MethodPost, "/api/v1/campaigns", "bob", `{"name":"no id"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(engine, http.MethodPut, "/api/v1/campaigns/42/members/alice", "bob", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = call(engine, http.MethodPut, "/api/v1/campaigns/missing/members/alice", "gm", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = call(engine, http.MethodPut, "/api/v1/campaigns/42/members/alice", "gm", "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ok, err := store.IsMember(ctx, "42", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	w = call(engine, http.MethodGet, "/api/v1/campaigns/42/presence", "alice", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(engine, http.MethodDelete, "/api/v1/campaigns/42/members/gm", "gm", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(engine, http.MethodDelete, "/api/v1/campaigns/42/members/alice", "gm", "")
	assert.Equal(t, http.StatusOK, w.Code)
	ok, err = store.IsMember(ctx, "42", "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	w = call(engine, http.MethodGet, "/api/v1/campaigns/42/presence", "alice", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHealthReportsOpenBreaker(t *testing.T) {
	state := gobreaker.StateClosed
	engine, _ := newRosterEngine(t, func() gobreaker.State { return state })

	health := func() map[string]interface{} {
		w := call(engine, http.MethodGet, "/health", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		return body
	}

	body := health()
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]interface{}{"campaign-oracle": "closed"}, body["breakers"])

	state = gobreaker.StateOpen
	body = health()
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]interface{}{"campaign-oracle": "open"}, body["breakers"])
}
