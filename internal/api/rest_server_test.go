package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/annel0/grid-dungeon/internal/auth"
	"github.com/annel0/grid-dungeon/internal/cache"
	"github.com/annel0/grid-dungeon/internal/dungeon"
	"github.com/annel0/grid-dungeon/internal/gamemap"
	"github.com/annel0/grid-dungeon/internal/logging"
	"github.com/annel0/grid-dungeon/internal/player"
	"github.com/annel0/grid-dungeon/internal/storage"
	"github.com/annel0/grid-dungeon/internal/templategen"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	roomW = 9
	roomH = 7
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Token   string          `json:"token"`
	Data    json.RawMessage `json:"data"`
}

type apiFixture struct {
	t      *testing.T
	server *RestServer
	svc    *gamemap.Service
	store  *storage.MemoryStore
	cache  *cache.TemplateCache
	users  *auth.MemoryUserRepo
	gen    *templategen.Generator
}

func newAPIFixture(t *testing.T, seed bool) *apiFixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	tc := cache.NewTemplateCache(store, cache.TemplateCacheOptions{})
	svc, err := gamemap.NewService(gamemap.Options{
		Templates: tc,
		Rooms:     store,
		Players:   player.NewMemoryRepo(),
		Picker:    gamemap.NewPicker(1),
		Logger:    logging.NewWriterLogger("gamemap", io.Discard, logging.ERROR),
	})
	require.NoError(t, err)

	gen, err := templategen.NewGenerator(5, roomW, roomH)
	require.NoError(t, err)
	if seed {
		_, err = templategen.SeedTemplates(ctx, svc, gen, gamemap.DefaultStartTemplate)
		require.NoError(t, err)
	}

	users := auth.NewMemoryUserRepo()
	_, err = auth.EnsureAdmin(ctx, users, "admin", "admin-pass")
	require.NoError(t, err)
	hash, err := auth.HashPassword("builder-pass")
	require.NoError(t, err)
	_, err = users.CreateUser(ctx, "builder", hash, false)
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer(bytes.Repeat([]byte{1}, 32), 0)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	server, err := NewRestServer(Config{
		Service:    svc,
		UserRepo:   users,
		Issuer:     issuer,
		Version:    "test",
		Registerer: reg,
		Gatherer:   reg,
		Webhooks:   NewOutboundWebhookManager("test"),
		Cache:      tc,
		Logger:     logging.NewWriterLogger("api", io.Discard, logging.ERROR),
	})
	require.NoError(t, err)
	t.Cleanup(server.webhooks.Close)

	return &apiFixture{t: t, server: server, svc: svc, store: store, cache: tc, users: users, gen: gen}
}

func (f *apiFixture) do(method, path, token string, body interface{}) (int, apiResponse) {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w.Code, resp
}

func (f *apiFixture) login(username, password string) string {
	f.t.Helper()
	code, resp := f.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(f.t, http.StatusOK, code, resp.Message)
	require.NotEmpty(f.t, resp.Token)
	return resp.Token
}

func (f *apiFixture) newPlayer(id string) string {
	f.t.Helper()
	code, resp := f.do(http.MethodPost, "/api/players", "", CreatePlayerRequest{ID: id})
	require.Equal(f.t, http.StatusCreated, code, resp.Message)
	var data struct {
		Player player.Player `json:"player"`
		Token  string        `json:"token"`
	}
	require.NoError(f.t, json.Unmarshal(resp.Data, &data))
	require.Equal(f.t, id, data.Player.ID)
	return data.Token
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthAndAuth(t *testing.T) {
	f := newAPIFixture(t, false)

	code, _ := f.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp := f.do(http.MethodPost, "/api/auth/login", "", LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	code, _ = f.do(http.MethodGet, "/api/server", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.do(http.MethodGet, "/api/server", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	token := f.login("ADMIN", "admin-pass")
	code, resp = f.do(http.MethodGet, "/api/server", token, nil)
	require.Equal(t, http.StatusOK, code)
	info := decode[map[string]interface{}](t, resp.Data)
	assert.Equal(t, "test", info["version"])
	assert.Equal(t, "First", info["start_template"])

	code, _ = f.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestTemplateEndpoints(t *testing.T) {
	f := newAPIFixture(t, false)
	admin := f.login("admin", "admin-pass")
	builder := f.login("builder", "builder-pass")
	playerToken := f.newPlayer("p1")

	hall, err := f.gen.Candidate("Hall", dungeon.North, dungeon.East)
	require.NoError(t, err)

	code, _ := f.do(http.MethodPost, "/api/templates", playerToken, hall)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := f.do(http.MethodPost, "/api/templates", builder, hall)
	require.Equal(t, http.StatusCreated, code, resp.Message)
	created := decode[dungeon.BaseMapTemplate](t, resp.Data)
	assert.Equal(t, "Hall", created.Name)
	assert.True(t, created.Exits.North)

	code, _ = f.do(http.MethodPost, "/api/templates", builder, hall)
	assert.Equal(t, http.StatusConflict, code)

	bad := hall
	bad.Name = "Tiny"
	bad.Width = 2
	code, resp = f.do(http.MethodPost, "/api/templates", builder, bad)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, resp.Success)

	code, resp = f.do(http.MethodGet, "/api/templates", playerToken, nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]TemplateSummary](t, resp.Data)
	require.Len(t, list, 1)
	assert.Equal(t, []dungeon.Direction{dungeon.North, dungeon.East}, list[0].Doors)

	code, resp = f.do(http.MethodGet, "/api/templates/"+created.ID+"/exits", playerToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.ElementsMatch(t, []dungeon.Direction{dungeon.North, dungeon.East}, decode[[]dungeon.Direction](t, resp.Data))

	code, resp = f.do(http.MethodGet, "/api/templates/exit/EAST", playerToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]TemplateSummary](t, resp.Data), 1)

	code, _ = f.do(http.MethodGet, "/api/templates/exit/up", playerToken, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, resp = f.do(http.MethodGet, "/api/templates/random/south", playerToken, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, msgNoCompatibleRoom, resp.Message)

	code, _ = f.do(http.MethodGet, "/api/templates/missing", playerToken, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(http.MethodDelete, "/api/templates/"+created.ID, builder, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = f.do(http.MethodDelete, "/api/templates/"+created.ID, admin, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(http.MethodGet, "/api/templates/"+created.ID, playerToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPlayerDungeonFlow(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.newPlayer("p1")

	code, resp := f.do(http.MethodGet, "/api/rooms/current", token, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	start := decode[dungeon.RoomInstance](t, resp.Data)
	assert.Equal(t, "p1", start.OwnerID)

	code, resp = f.do(http.MethodPost, "/api/rooms/"+start.ID+"/transition/south", token, nil)
	require.Equal(t, http.StatusOK, code, resp.Message)
	moved := decode[gamemap.TransitionResult](t, resp.Data)
	assert.True(t, moved.Room.Exits.North)
	assert.Equal(t, dungeon.SpawnPosition(dungeon.South, roomW, roomH), moved.Spawn)

	code, resp = f.do(http.MethodPost, "/api/rooms/"+start.ID+"/neighbors/south", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, moved.Room.ID, decode[dungeon.RoomInstance](t, resp.Data).ID)

	code, resp = f.do(http.MethodGet, "/api/players/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	me := decode[player.Player](t, resp.Data)
	assert.Equal(t, moved.Room.ID, me.CurrentRoomID)

	code, resp = f.do(http.MethodGet, "/api/rooms/current", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, moved.Room.ID, decode[dungeon.RoomInstance](t, resp.Data).ID)

	code, resp = f.do(http.MethodGet, "/api/rooms", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]dungeon.RoomInstance](t, resp.Data), 2)

	code, resp = f.do(http.MethodGet, "/api/rooms/template/"+start.TemplateID, token, nil)
	require.Equal(t, http.StatusOK, code)
	byTemplate := decode[[]dungeon.RoomInstance](t, resp.Data)
	require.NotEmpty(t, byTemplate)
	assert.Equal(t, start.TemplateID, byTemplate[0].TemplateID)

	code, resp = f.do(http.MethodGet, "/api/graph/verify", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"consistent":true`)

	// чужая комната не видна
	other := f.newPlayer("p2")
	code, _ = f.do(http.MethodGet, "/api/rooms/"+start.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(http.MethodPost, "/api/rooms/"+start.ID+"/transition/south", other, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// дизайнеру комнаты игроков недоступны
	admin := f.login("admin", "admin-pass")
	code, _ = f.do(http.MethodGet, "/api/rooms", admin, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestRoomEditsEndpoint(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.newPlayer("p1")

	code, resp := f.do(http.MethodGet, "/api/rooms/current", token, nil)
	require.Equal(t, http.StatusOK, code)
	room := decode[dungeon.RoomInstance](t, resp.Data)

	center := dungeon.CentralExitCell(dungeon.Direction(""), roomW, roomH)
	exit := dungeon.CentralExitCell(dungeon.North, roomW, roomH)
	edits := EditsRequest{Edits: []dungeon.Edit{
		{Position: center, NewKind: dungeon.KindWall, Resources: &dungeon.Resources{Stone: 2}},
		{Position: exit, NewKind: dungeon.KindFloor},
	}}

	code, resp = f.do(http.MethodPost, "/api/rooms/"+room.ID+"/edits", token, edits)
	require.Equal(t, http.StatusOK, code, resp.Message)
	res := decode[gamemap.EditResult](t, resp.Data)
	assert.Equal(t, []int{0}, res.Report.Applied)
	require.Len(t, res.Report.Failed, 1)
	assert.Equal(t, 1, res.Report.Failed[0].Index)
	cell, ok := res.Room.CellAt(center)
	require.True(t, ok)
	assert.Equal(t, dungeon.KindWall, cell.Kind)

	// пакет без единой применённой правки
	code, resp = f.do(http.MethodPost, "/api/rooms/"+room.ID+"/edits", token, EditsRequest{Edits: []dungeon.Edit{
		{Position: exit, NewKind: dungeon.KindFloor},
	}})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, resp.Success)

	code, resp = f.do(http.MethodGet, "/api/rooms/"+room.ID+"/replay", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[gamemap.ReplayResult](t, resp.Data).Matches)

	code, _ = f.do(http.MethodPost, "/api/rooms/"+room.ID+"/edits", token, map[string]string{"edits": "nope"})
	assert.Equal(t, http.StatusBadRequest, code)

	// тип клетки в любом регистре: стена из первой правки снова становится полом
	raw := json.RawMessage(fmt.Sprintf(`{"edits":[{"position":{"x":%d,"y":%d},"newKind":"Floor"}]}`, center.X, center.Y))
	code, resp = f.do(http.MethodPost, "/api/rooms/"+room.ID+"/edits", token, raw)
	require.Equal(t, http.StatusOK, code, resp.Message)
	res = decode[gamemap.EditResult](t, resp.Data)
	assert.Equal(t, []int{0}, res.Report.Applied)
	cell, ok = res.Room.CellAt(center)
	require.True(t, ok)
	assert.Equal(t, dungeon.KindFloor, cell.Kind)
}

func TestPlayerRecordEndpoints(t *testing.T) {
	f := newAPIFixture(t, false)
	token := f.newPlayer("p1")

	code, _ := f.do(http.MethodPost, "/api/players", "", CreatePlayerRequest{ID: "p1"})
	assert.Equal(t, http.StatusConflict, code)

	health := 42
	code, resp := f.do(http.MethodPut, "/api/players/me", token, player.Update{Health: &health})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 42, decode[player.Player](t, resp.Data).Health)

	negative := -1
	code, _ = f.do(http.MethodPut, "/api/players/me", token, player.Update{Health: &negative})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = f.do(http.MethodDelete, "/api/players/me", token, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(http.MethodGet, "/api/players/me", token, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// без id сервер генерирует его сам
	code, resp = f.do(http.MethodPost, "/api/players", "", nil)
	require.Equal(t, http.StatusCreated, code)
	assert.Contains(t, string(resp.Data), `"token"`)
}

func TestAdminRegisterDesigner(t *testing.T) {
	f := newAPIFixture(t, false)
	admin := f.login("admin", "admin-pass")

	code, _ := f.do(http.MethodPost, "/api/admin/register", admin, RegisterRequest{Username: "ab", Password: "long-enough"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(http.MethodPost, "/api/admin/register", admin, RegisterRequest{Username: "mapper", Password: "mapper-pass"})
	assert.Equal(t, http.StatusCreated, code)
	code, _ = f.do(http.MethodPost, "/api/admin/register", admin, RegisterRequest{Username: "Mapper", Password: "mapper-pass"})
	assert.Equal(t, http.StatusConflict, code)

	f.login("mapper", "mapper-pass")

	code, resp := f.do(http.MethodGet, "/api/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(resp.Data), `"templates":0`)

	var stats struct {
		Cache cache.TemplateCacheStats `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	require.NotNil(t, stats.Cache.Local)
	assert.False(t, stats.Cache.Shared)
	assert.Nil(t, stats.Cache.Invalidations)
}

func TestHTTPServerLifecycle(t *testing.T) {
	f := newAPIFixture(t, false)
	f.server.port = "127.0.0.1:0"

	srv := NewHTTPServer(f.server)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	_, open := <-srv.Errors()
	assert.False(t, open)
}
