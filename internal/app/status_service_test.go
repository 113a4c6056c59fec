package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiClient struct {
	t       *testing.T
	handler http.Handler
}

func (c apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestStatus_Health(t *testing.T) {
	env := newTestEnv(t, "")
	api := apiClient{t, env.services.Status.Handler()}

	rec := api.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestStatus_ProjectEditing(t *testing.T) {
	env := newTestEnv(t, "")
	api := apiClient{t, env.services.Status.Handler()}

	rec := api.do(http.MethodPost, "/projects", map[string]string{"name": "Base"})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[projectView](t, rec)
	assert.Equal(t, p.ID, env.services.Projects.ActiveID(), "first project becomes active")

	rec = api.do(http.MethodPost, "/projects/"+p.ID+"/goals", map[string]any{"resource": "minecraft:oak_log", "target": "64"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodPost, "/projects/"+p.ID+"/goals", map[string]any{"resource": "minecraft:oak_log", "target": 32})
	require.Equal(t, http.StatusOK, rec.Code)
	p = decode[projectView](t, rec)
	require.Len(t, p.Goals, 1, "quick adds merge")
	assert.Equal(t, 96, p.Goals[0].Target)
	goalID := p.Goals[0].ID

	rec = api.do(http.MethodPut, "/projects/"+p.ID+"/goals/"+goalID+"/target", map[string]any{"target": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, decode[projectView](t, rec).Goals[0].Target)

	rec = api.do(http.MethodPost, "/projects/"+p.ID+"/goals", map[string]any{
		"resource":   "minecraft:enchanted_book",
		"target":     1,
		"strict":     true,
		"attributes": map[string]any{"match": map[string]string{"enchant": "mending"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	p = decode[projectView](t, rec)
	require.Len(t, p.Goals, 2)
	require.NotNil(t, p.Goals[1].Attributes)
	assert.Equal(t, "mending", p.Goals[1].Attributes.Match["enchant"])

	rec = api.do(http.MethodPut, "/projects/"+p.ID+"/secondary", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[projectView](t, rec).TrackSecondaryRate)

	rec = api.do(http.MethodGet, "/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]projectView](t, rec), 1)

	rec = api.do(http.MethodDelete, "/projects/"+p.ID+"/goals/"+goalID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[projectView](t, rec).Goals, 1)

	rec = api.do(http.MethodDelete, "/projects/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.services.Projects.ActiveID())
}

func TestStatus_Errors(t *testing.T) {
	env := newTestEnv(t, "")
	api := apiClient{t, env.services.Status.Handler()}
	p, err := env.services.Projects.Create("Base")
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"zero target", http.MethodPost, "/projects/" + p.ID + "/goals", map[string]any{"resource": "minecraft:stone", "target": "0"}, http.StatusBadRequest},
		{"fractional target", http.MethodPost, "/projects/" + p.ID + "/goals", map[string]any{"resource": "minecraft:stone", "target": 1.5}, http.StatusBadRequest},
		{"text target", http.MethodPost, "/projects/" + p.ID + "/goals", map[string]any{"resource": "minecraft:stone", "target": "lots"}, http.StatusBadRequest},
		{"missing resource", http.MethodPost, "/projects/" + p.ID + "/goals", map[string]any{"target": 1}, http.StatusBadRequest},
		{"unknown project", http.MethodPost, "/projects/nope/goals", map[string]any{"resource": "minecraft:stone", "target": 1}, http.StatusNotFound},
		{"unknown goal", http.MethodDelete, "/projects/" + p.ID + "/goals/nope", nil, http.StatusNotFound},
		{"activate unknown", http.MethodPost, "/projects/nope/activate", nil, http.StatusNotFound},
		{"unnamed project", http.MethodPost, "/projects", map[string]string{}, http.StatusBadRequest},
		{"dirty without resource", http.MethodPost, "/inventory/dirty", nil, http.StatusBadRequest},
		{"bad ledger limit", http.MethodGet, "/ledger?limit=-1", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	got, err := env.services.Projects.Get(p.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Goals, "rejected input changes nothing")
}

func TestStatus_SnapshotAndDirtyMarks(t *testing.T) {
	env := newTestEnv(t, logs(4))
	s := env.services
	api := apiClient{t, s.Status.Handler()}

	rec := api.do(http.MethodPost, "/projects", map[string]string{"name": "Base"})
	p := decode[projectView](t, rec)
	api.do(http.MethodPost, "/projects/"+p.ID+"/goals", map[string]any{"resource": "minecraft:oak_log", "target": 8})
	s.Tracker.Tick()

	rec = api.do(http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[statusResponse](t, rec)
	assert.Equal(t, p.ID, status.ActiveProject)
	assert.False(t, status.SaveFailed)
	require.Len(t, status.Snapshot.Goals, 1)
	assert.Equal(t, 4, status.Snapshot.Goals[0].Count)
	assert.Equal(t, 0.5, status.Snapshot.Goals[0].Progress)
	assert.Equal(t, "full", status.Snapshot.LastScan)

	s.Tracker.Tick()
	assert.Equal(t, "none", s.Engine.Snapshot().LastScan, "clean inventory is not rescanned")

	assert.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/inventory/dirty?resource=minecraft:oak_log", nil).Code)
	s.Tracker.Tick()
	assert.Equal(t, "granular", s.Engine.Snapshot().LastScan)

	assert.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/inventory/dirty/all", nil).Code)
	s.Tracker.Tick()
	assert.Equal(t, "full", s.Engine.Snapshot().LastScan)

	assert.Equal(t, http.StatusAccepted, api.do(http.MethodPost, "/session/reset", nil).Code)
	s.Tracker.Tick()
	assert.Equal(t, "full", s.Engine.Snapshot().LastScan)
}

func TestStatus_Ledger(t *testing.T) {
	env := newTestEnv(t, logs(0))
	s := env.services
	api := apiClient{t, s.Status.Handler()}

	rec := api.do(http.MethodPost, "/projects", map[string]string{"name": "Base"})
	p := decode[projectView](t, rec)
	api.do(http.MethodPost, "/projects/"+p.ID+"/goals", map[string]any{"resource": "minecraft:oak_log", "target": 2})
	s.Tracker.Tick()
	env.setInventory(t, logs(3))
	s.Tracker.Tick()

	rec = api.do(http.MethodGet, "/ledger?project="+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]ledgerView](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "goal_completed", entries[0].EventType)
	assert.EqualValues(t, 3, entries[0].Payload["count"])

	rec = api.do(http.MethodGet, "/ledger?project=other", nil)
	assert.Empty(t, decode[[]ledgerView](t, rec))
}
