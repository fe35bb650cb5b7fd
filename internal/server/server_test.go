package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/gqlselect"
	"github.com/hanpama/graphcache/internal/store"
)

const testSDL = `
type Query { me: User }
type User { id: ID!, name: String }
`

const meQuery = `query MeQuery { me { id name } }`

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	sch, err := gqlselect.LoadSchema("schema.graphql", testSDL)
	require.NoError(t, err)
	return New(store.New(), sch, opts...)
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	if w.Body.Len() > 0 && w.Body.String() != "null\n" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func query(q string, extra string) string {
	b, _ := json.Marshal(q)
	if extra == "" {
		return `{"query":` + string(b) + `}`
	}
	return `{"query":` + string(b) + `,` + extra + `}`
}

func TestPublishThenRead(t *testing.T) {
	h := newTestHandler(t)

	w, res := do(t, h, "POST", "/read", query(meQuery, ""))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, res["isMissingData"])

	w, res = do(t, h, "POST", "/publish", query(meQuery, `"data":{"me":{"id":"4","name":"Ada"}}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, []any{}, res["updatedOwners"])

	w, res = do(t, h, "POST", "/read", query(meQuery, ""))
	require.Equal(t, http.StatusOK, w.Code)
	want := map[string]any{
		"data":          map[string]any{"me": map[string]any{"id": "4", "name": "Ada"}},
		"isMissingData": false,
		"seenRecords":   []any{"4", "client:root"},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Fatalf("read mismatch (-want +got):\n%s", diff)
	}
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestCheckAndInvalidate(t *testing.T) {
	h := newTestHandler(t)

	_, res := do(t, h, "POST", "/check", query(meQuery, ""))
	require.Equal(t, "missing", res["status"])

	do(t, h, "POST", "/publish", query(meQuery, `"data":{"me":{"id":"4","name":"Ada"}}`))
	_, res = do(t, h, "POST", "/check", query(meQuery, ""))
	require.Equal(t, "available", res["status"])
	require.NotEmpty(t, res["fetchTime"])

	w, _ := do(t, h, "POST", "/invalidate", `{"ids":["4"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	_, res = do(t, h, "POST", "/check", query(meQuery, ""))
	require.Equal(t, "stale", res["status"])

	w, res = do(t, h, "POST", "/invalidate", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "nothing to invalidate", firstError(t, res))
}

func TestRecords(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, "POST", "/publish", query(meQuery, `"data":{"me":{"id":"4","name":"Ada"}}`))

	w, res := do(t, h, "GET", "/records/4", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Ada", res["name"])
	require.Equal(t, "User", res["__typename"])

	w, res = do(t, h, "GET", "/records/5", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "unknown record 5", firstError(t, res))

	w, res = do(t, h, "GET", "/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, res, "client:root")
	require.Contains(t, res, "4")
}

func TestBadRequests(t *testing.T) {
	h := newTestHandler(t, WithMaxBodyBytes(200))
	for _, tc := range []struct {
		name, path, body string
		status           int
		want             string
	}{
		{"invalid json", "/read", `{`, http.StatusBadRequest, "invalid JSON"},
		{"missing query", "/read", `{}`, http.StatusBadRequest, "missing 'query'"},
		{"unknown field", "/read", query(`{ me { age } }`, ""), http.StatusBadRequest, `.me.age: type User has no field "age"`},
		{"missing data", "/publish", query(meQuery, ""), http.StatusBadRequest, "missing 'data'"},
		{"too large", "/read", query(meQuery, `"variables":{"pad":"`+string(bytes.Repeat([]byte("x"), 200))+`"}`), http.StatusRequestEntityTooLarge, "body too large"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w, res := do(t, h, "POST", tc.path, tc.body)
			require.Equal(t, tc.status, w.Code)
			require.Equal(t, tc.want, firstError(t, res))
		})
	}

	req := httptest.NewRequest("POST", "/read", bytes.NewBufferString(query(meQuery, "")))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "unsupported Content-Type")
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, WithCORS("https://example.com"))

	req := httptest.NewRequest("OPTIONS", "/read", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))
	require.Equal(t, "GET,POST,OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest("OPTIONS", "/read", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPEvents(t *testing.T) {
	bus := eventbus.New()
	var routes []string
	var statuses []int
	eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPStart) { routes = append(routes, e.Route) })
	eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFinish) { statuses = append(statuses, e.Status) })
	h := newTestHandler(t, WithEventBus(bus))

	do(t, h, "POST", "/read", query(meQuery, ""))
	do(t, h, "GET", "/records/nope", "")
	require.Equal(t, []string{"POST /read", "GET /records/{id}"}, routes)
	require.Equal(t, []int{http.StatusOK, http.StatusNotFound}, statuses)
}

func TestWithStore(t *testing.T) {
	h := newTestHandler(t)
	do(t, h, "POST", "/publish", query(meQuery, `"data":{"me":{"id":"4","name":"Ada"}}`))
	h.WithStore(func(s *store.Store) {
		require.True(t, s.Source().Has("4"))
	})
}

func firstError(t *testing.T, res map[string]any) string {
	t.Helper()
	errs, ok := res["errors"].([]any)
	require.True(t, ok, "response has no errors: %v", res)
	return errs[0].(map[string]any)["message"].(string)
}

func TestSubscribe(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/subscribe", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, ws.WriteJSON(map[string]any{"query": meQuery}))
	var first map[string]any
	require.NoError(t, ws.ReadJSON(&first))
	require.Equal(t, true, first["isMissingData"])

	res, err := http.Post(srv.URL+"/publish", "application/json",
		strings.NewReader(query(meQuery, `"data":{"me":{"id":"4","name":"Ada"}}`)))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var next map[string]any
	require.NoError(t, ws.ReadJSON(&next))
	require.Equal(t, false, next["isMissingData"])
	require.Equal(t, map[string]any{"me": map[string]any{"id": "4", "name": "Ada"}}, next["data"])
}

func TestSubscribeRejectsBadQuery(t *testing.T) {
	h := newTestHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/subscribe", nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	require.NoError(t, ws.WriteJSON(map[string]any{"query": "{ me { age } }"}))
	var res map[string]any
	require.NoError(t, ws.ReadJSON(&res))
	require.Equal(t, `.me.age: type User has no field "age"`, firstError(t, res))
}
