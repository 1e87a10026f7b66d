package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/gitrepo"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/grid"
	"github.com/Kachinaco/Windows-and-Doors-Near-Me-LLC-sub002/internal/store"
)

type testAPI struct {
	t      *testing.T
	h      http.Handler
	engine *grid.Engine
}

func newTestAPI(t *testing.T, configure ...func(*Deps)) *testAPI {
	t.Helper()
	mem := store.NewMemoryStore()
	e := grid.New(mem)
	d := Deps{Engine: e, Store: mem}
	for _, fn := range configure {
		fn(&d)
	}
	return &testAPI{t: t, h: NewHTTPServer(New(d), "*").Handler(), engine: e}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	a.h.ServeHTTP(rr, req)
	return rr
}

// call expects status and decodes the JSON object response.
func (a *testAPI) call(method, path string, body any, status int) map[string]any {
	a.t.Helper()
	rr := a.do(method, path, body)
	require.Equal(a.t, status, rr.Code, "%s %s: %s", method, path, rr.Body.String())
	var out map[string]any
	require.NoError(a.t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func (a *testAPI) create(path string, body any) int64 {
	a.t.Helper()
	out := a.call(http.MethodPost, path, body, http.StatusCreated)
	if id, ok := out["id"].(float64); ok {
		return int64(id)
	}
	return int64(out["itemId"].(float64))
}

type boardFixture struct {
	board, status, price, notes int64
}

func (a *testAPI) board(name string) boardFixture {
	a.t.Helper()
	ws := a.create("/api/workspaces", map[string]any{"name": "Acme"})
	b := a.create("/api/boards", map[string]any{"workspaceId": ws, "name": name})
	base := fmt.Sprintf("/api/boards/%d/columns", b)
	return boardFixture{
		board:  b,
		status: a.create(base, map[string]any{"title": "Status", "type": "status"}),
		price:  a.create(base, map[string]any{"title": "Price", "type": "numbers"}),
		notes:  a.create(base, map[string]any{"title": "Notes", "type": "text"}),
	}
}

func (a *testAPI) item(f boardFixture, name string, cells map[int64]any) int64 {
	a.t.Helper()
	body := map[string]any{"name": name}
	if cells != nil {
		wire := map[string]any{}
		for k, v := range cells {
			wire[fmt.Sprint(k)] = v
		}
		body["cells"] = wire
	}
	return a.create(fmt.Sprintf("/api/boards/%d/items", f.board), body)
}

func cellPath(itemID, columnID int64) string {
	return fmt.Sprintf("/api/items/%d/cells/%d", itemID, columnID)
}

func TestBoardLifecycle(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Installs")

	a.create(fmt.Sprintf("/api/boards/%d/groups", f.board), map[string]any{"title": "This week", "color": "#00c875"})
	door := a.item(f, "Front door", map[int64]any{f.status: "Working on it", f.price: 1200})

	snap := a.call(http.MethodGet, fmt.Sprintf("/api/boards/%d", f.board), nil, http.StatusOK)
	assert.Len(t, snap["columns"], 3)
	assert.Len(t, snap["groups"], 1)
	assert.Len(t, snap["items"], 1)
	assert.NotEmpty(t, snap["cells"])

	renamed := a.call(http.MethodPatch, fmt.Sprintf("/api/boards/%d", f.board), map[string]any{"name": "Installs 2026"}, http.StatusOK)
	assert.Equal(t, "Installs 2026", renamed["name"])

	got := a.call(http.MethodGet, fmt.Sprintf("/api/items/%d", door), nil, http.StatusOK)
	assert.Equal(t, "Front door", got["name"])
	values := got["values"].(map[string]any)
	price := values[fmt.Sprint(f.price)].(map[string]any)
	assert.Equal(t, "number", price["kind"])
	assert.Equal(t, "1200", price["number"])
	assert.Equal(t, []any{}, got["subItems"])

	cell := a.call(http.MethodPut, cellPath(door, f.notes), map[string]any{"value": "measure twice"}, http.StatusOK)
	assert.Equal(t, "measure twice", cell["value"].(map[string]any)["text"])

	a.call(http.MethodPatch, fmt.Sprintf("/api/items/%d", door), map[string]any{"name": "Front door (oak)"}, http.StatusOK)
	a.call(http.MethodDelete, fmt.Sprintf("/api/items/%d", door), nil, http.StatusOK)

	missing := a.call(http.MethodGet, fmt.Sprintf("/api/items/%d", door), nil, http.StatusNotFound)
	assert.Equal(t, "NOT_FOUND", missing["code"])

	a.call(http.MethodDelete, fmt.Sprintf("/api/columns/%d", f.notes), nil, http.StatusOK)
	a.call(http.MethodDelete, fmt.Sprintf("/api/boards/%d", f.board), nil, http.StatusOK)
	a.call(http.MethodGet, fmt.Sprintf("/api/boards/%d", f.board), nil, http.StatusNotFound)
}

func TestSubItemRoutes(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Installs")
	door := a.item(f, "Front door", nil)

	sub := a.create(fmt.Sprintf("/api/items/%d/subitems", door), map[string]any{"name": "Hinges"})
	cell := a.call(http.MethodPut, fmt.Sprintf("/api/subitems/%d/cells/%d", sub, f.price), map[string]any{"value": 35.5}, http.StatusOK)
	assert.Equal(t, "35.5", cell["value"].(map[string]any)["number"])

	got := a.call(http.MethodGet, fmt.Sprintf("/api/items/%d", door), nil, http.StatusOK)
	assert.Len(t, got["subItems"], 1)

	a.call(http.MethodDelete, fmt.Sprintf("/api/subitems/%d", sub), nil, http.StatusOK)
	got = a.call(http.MethodGet, fmt.Sprintf("/api/items/%d", door), nil, http.StatusOK)
	assert.Len(t, got["subItems"], 0)
}

func TestDoneGateBlocksCompletion(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Installs")
	frame := a.item(f, "Frame", map[int64]any{f.status: "Working on it"})
	glass := a.item(f, "Glass", nil)

	a.create("/api/dependencies", map[string]any{"sourceItemId": frame, "targetItemId": glass, "type": "blocks"})

	blocked := a.call(http.MethodPut, cellPath(glass, f.status), map[string]any{"value": "Done"}, http.StatusConflict)
	assert.Equal(t, "BLOCKED", blocked["code"])
	assert.Equal(t, []any{float64(frame)}, blocked["details"].(map[string]any)["blocking"])

	// a label index resolves to the same done label
	a.call(http.MethodPut, cellPath(glass, f.status), map[string]any{"value": map[string]any{"index": 2}}, http.StatusConflict)

	// non-done labels are never gated
	a.call(http.MethodPut, cellPath(glass, f.status), map[string]any{"value": "Stuck"}, http.StatusOK)

	can := a.call(http.MethodGet, fmt.Sprintf("/api/items/%d/can-complete", glass), nil, http.StatusOK)
	assert.Equal(t, false, can["canComplete"])

	a.call(http.MethodPut, cellPath(frame, f.status), map[string]any{"value": "Done"}, http.StatusOK)
	a.call(http.MethodPut, cellPath(glass, f.status), map[string]any{"value": "Done"}, http.StatusOK)

	can = a.call(http.MethodGet, fmt.Sprintf("/api/items/%d/can-complete", glass), nil, http.StatusOK)
	assert.Equal(t, true, can["canComplete"])
	assert.Equal(t, []any{}, can["blocking"])
}

func TestDependencyErrors(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Installs")
	x := a.item(f, "X", nil)
	y := a.item(f, "Y", nil)

	self := a.call(http.MethodPost, "/api/dependencies", map[string]any{"sourceItemId": x, "targetItemId": x, "type": "blocks"}, http.StatusUnprocessableEntity)
	assert.Equal(t, "SELF_DEPENDENCY", self["code"])

	dep := a.create("/api/dependencies", map[string]any{"sourceItemId": x, "targetItemId": y, "type": "blocks"})
	cycle := a.call(http.MethodPost, "/api/dependencies", map[string]any{"sourceItemId": y, "targetItemId": x, "type": "blocks"}, http.StatusConflict)
	assert.Equal(t, "CYCLE", cycle["code"])
	assert.NotEmpty(t, cycle["details"].(map[string]any)["path"])

	badType := a.call(http.MethodPost, "/api/dependencies", map[string]any{"sourceItemId": x, "targetItemId": y, "type": "before"}, http.StatusUnprocessableEntity)
	assert.Equal(t, "oneof=blocks waiting_for linked_to", badType["details"].(map[string]any)["type"])

	listed := a.call(http.MethodGet, fmt.Sprintf("/api/items/%d/dependencies", y), nil, http.StatusOK)
	assert.Len(t, listed["dependencies"], 1)

	a.call(http.MethodDelete, fmt.Sprintf("/api/dependencies/%d", dep), nil, http.StatusOK)
	listed = a.call(http.MethodGet, fmt.Sprintf("/api/items/%d/dependencies", y), nil, http.StatusOK)
	assert.Equal(t, []any{}, listed["dependencies"])
}

func TestRequestValidation(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Installs")
	door := a.item(f, "Front door", nil)

	missing := a.call(http.MethodPost, "/api/boards", map[string]any{"workspaceId": 1}, http.StatusUnprocessableEntity)
	assert.Equal(t, "VALIDATION_ERROR", missing["code"])
	assert.Equal(t, "required", missing["details"].(map[string]any)["name"])

	unknown := a.call(http.MethodPost, fmt.Sprintf("/api/boards/%d/columns", f.board), map[string]any{"title": "Odd", "type": "hologram"}, http.StatusUnprocessableEntity)
	assert.Contains(t, unknown["error"], "hologram")

	badCell := a.call(http.MethodPut, cellPath(door, f.price), map[string]any{"value": "lots"}, http.StatusUnprocessableEntity)
	assert.Equal(t, float64(f.price), badCell["details"].(map[string]any)["columnId"])

	badColor := a.call(http.MethodPost, fmt.Sprintf("/api/boards/%d/groups", f.board), map[string]any{"title": "Later", "color": "blue"}, http.StatusUnprocessableEntity)
	assert.Equal(t, "hexcolor", badColor["details"].(map[string]any)["color"])

	body := a.call(http.MethodPost, "/api/workspaces", "{not json", http.StatusBadRequest)
	assert.Equal(t, "INVALID_BODY", body["code"])

	a.call(http.MethodGet, "/api/items/abc", nil, http.StatusNotFound)
	a.call(http.MethodGet, "/api/nothing", nil, http.StatusNotFound)
	a.call(http.MethodPut, fmt.Sprintf("/api/boards/%d", f.board), nil, http.StatusMethodNotAllowed)
}

func TestStaleVersionConflict(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Installs")
	door := a.item(f, "Front door", map[int64]any{f.price: 10})

	cell := a.call(http.MethodPut, cellPath(door, f.price), map[string]any{"value": 20}, http.StatusOK)
	version := int64(cell["version"].(float64))

	a.call(http.MethodPut, cellPath(door, f.price), map[string]any{"value": 30, "expectedVersion": version - 1}, http.StatusConflict)
	a.call(http.MethodPut, cellPath(door, f.price), map[string]any{"value": 30, "expectedVersion": version}, http.StatusOK)
}

func TestViewRowsAndExport(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Orders")
	a.item(f, "door", map[int64]any{f.price: 100, f.status: "Done"})
	a.item(f, "window, bay", map[int64]any{f.price: 300})

	viewID := a.create(fmt.Sprintf("/api/boards/%d/views", f.board), map[string]any{
		"name": "Priciest",
		"spec": map[string]any{"sort": []any{map[string]any{"columnId": f.price, "desc": true}}},
	})

	listed := a.call(http.MethodGet, fmt.Sprintf("/api/boards/%d/views", f.board), nil, http.StatusOK)
	assert.Len(t, listed["views"], 1)

	rows := a.call(http.MethodGet, fmt.Sprintf("/api/views/%d/rows", viewID), nil, http.StatusOK)
	assert.Equal(t, float64(2), rows["count"])
	groups := rows["groups"].([]any)
	require.Len(t, groups, 1)
	first := groups[0].(map[string]any)["rows"].([]any)[0].(map[string]any)
	assert.Equal(t, "window, bay", first["name"])

	rr := a.do(http.MethodGet, fmt.Sprintf("/api/views/%d/export?format=csv", viewID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "Priciest.csv")
	assert.Equal(t, "Name,Status,Price,Notes\n\"window, bay\",,300,\ndoor,Done,100,\n", rr.Body.String())

	bad := a.call(http.MethodGet, fmt.Sprintf("/api/views/%d/export?format=xlsx", viewID), nil, http.StatusUnprocessableEntity)
	assert.Equal(t, "VALIDATION_ERROR", bad["code"])

	unavailable := a.call(http.MethodGet, fmt.Sprintf("/api/views/%d/export?format=csv&store=1", viewID), nil, http.StatusServiceUnavailable)
	assert.Equal(t, "EXPORT_UNAVAILABLE", unavailable["code"])

	renamed := a.call(http.MethodPatch, fmt.Sprintf("/api/views/%d", viewID), map[string]any{"name": "Top"}, http.StatusOK)
	assert.Equal(t, "Top", renamed["name"])

	invalid := a.call(http.MethodPost, fmt.Sprintf("/api/boards/%d/views", f.board), map[string]any{
		"name": "Broken",
		"spec": map[string]any{"sort": []any{map[string]any{"columnId": 9999}}},
	}, http.StatusUnprocessableEntity)
	assert.Contains(t, invalid["error"], "not on board")

	a.call(http.MethodDelete, fmt.Sprintf("/api/views/%d", viewID), nil, http.StatusOK)
	a.call(http.MethodGet, fmt.Sprintf("/api/views/%d/rows", viewID), nil, http.StatusNotFound)
}

func TestSearchEndpoint(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Leads")
	a.item(f, "Smith residence", map[int64]any{f.notes: "two patio doors"})
	a.item(f, "Jones", map[int64]any{f.notes: "skylight"})

	resp := a.call(http.MethodGet, fmt.Sprintf("/api/boards/%d/search?q=door", f.board), nil, http.StatusOK)
	assert.Equal(t, float64(1), resp["total"])
	hit := resp["results"].([]any)[0].(map[string]any)
	assert.Equal(t, "Smith residence", hit["name"])

	a.call(http.MethodGet, fmt.Sprintf("/api/boards/%d/search?q=door&limit=many", f.board), nil, http.StatusUnprocessableEntity)
	a.call(http.MethodGet, "/api/boards/9999/search?q=door", nil, http.StatusNotFound)
}

func TestActivityEndpoint(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Installs")
	door := a.item(f, "Front door", nil)
	a.call(http.MethodPut, cellPath(door, f.price), map[string]any{"value": 5}, http.StatusOK)

	a.call(http.MethodGet, "/api/activity", nil, http.StatusUnprocessableEntity)

	page := a.call(http.MethodGet, fmt.Sprintf("/api/activity?boardId=%d&limit=2", f.board), nil, http.StatusOK)
	entries := page["activity"].([]any)
	require.Len(t, entries, 2)
	next := page["next"].(float64)
	assert.Equal(t, entries[1].(map[string]any)["id"], next)

	rest := a.call(http.MethodGet, fmt.Sprintf("/api/activity?boardId=%d&after=%d", f.board, int64(next)), nil, http.StatusOK)
	for _, e := range rest["activity"].([]any) {
		assert.Greater(t, e.(map[string]any)["id"].(float64), next)
	}
}

func TestSchemaHistoryEndpoint(t *testing.T) {
	a := newTestAPI(t)
	f := a.board("Installs")
	unavailable := a.call(http.MethodGet, fmt.Sprintf("/api/boards/%d/schema/history", f.board), nil, http.StatusServiceUnavailable)
	assert.Equal(t, "HISTORY_UNAVAILABLE", unavailable["code"])

	history := gitrepo.New(t.TempDir())
	a = newTestAPI(t, func(d *Deps) {
		d.History = history
		d.Engine.AddCommitHook(history.Hook(d.Engine))
	})
	f = a.board("Installs")

	out := a.call(http.MethodGet, fmt.Sprintf("/api/boards/%d/schema/history", f.board), nil, http.StatusOK)
	commits := out["commits"].([]any)
	require.Len(t, commits, 4)
	assert.Equal(t, "create_column", strings.TrimSpace(commits[0].(map[string]any)["message"].(string)))

	// a history service without commits for the board reports none
	a = newTestAPI(t, func(d *Deps) { d.History = gitrepo.New(t.TempDir()) })
	f = a.board("Untracked")
	out = a.call(http.MethodGet, fmt.Sprintf("/api/boards/%d/schema/history", f.board), nil, http.StatusOK)
	assert.Equal(t, []any{}, out["commits"])

	a.call(http.MethodGet, "/api/boards/9999/schema/history", nil, http.StatusNotFound)
}
