package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/controller"
	"github.com/footron/footron/internal/environment"
	"github.com/footron/footron/internal/experience"
	"github.com/footron/footron/internal/loader"
	"github.com/footron/footron/internal/messaging"
	"github.com/footron/footron/internal/placard"
	"github.com/footron/footron/internal/releases"
	"github.com/footron/footron/internal/wm"
)

type fakeCapturer struct{}

func (fakeCapturer) Capture(context.Context, int, int, string, int) ([]byte, string, error) {
	return []byte("jpegbytes"), "image/jpeg", nil
}

type idleEnv struct{}

func (idleEnv) Start(context.Context, environment.Environment) error { return nil }
func (idleEnv) Stop(context.Context, environment.Environment) error  { return nil }
func (idleEnv) State(context.Context) environment.State              { return environment.StateRunning }
func (idleEnv) Available(context.Context) bool                       { return true }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dataPath := t.TempDir()
	experiencesDir := filepath.Join(dataPath, "experiences")
	for id, contents := range map[string]string{
		"alpha": `{"id": "alpha", "type": "web", "title": "Alpha", "artist": "A. Artist", "lifetime": 90}`,
		"beta":  `{"id": "beta", "type": "web", "title": "Beta"}`,
	} {
		dir := filepath.Join(experiencesDir, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(contents), 0o644))
	}

	cfg := config.Config{DataPath: dataPath}
	ctrl := controller.New(controller.Deps{
		Config:   cfg,
		Factory:  func(*experience.Experience) (environment.Environment, error) { return idleEnv{}, nil },
		WM:       wm.Disabled{},
		Placard:  placard.Disabled{},
		Loader:   loader.New(cfg.BinPath(), wm.Disabled{}),
		Capturer: fakeCapturer{},
	})
	require.NoError(t, ctrl.ReloadFromFS(context.Background()))

	releasesPath := filepath.Join(dataPath, "releases")
	require.NoError(t, os.MkdirAll(releasesPath, 0o755))
	store := releases.NewStore(releasesPath, experiencesDir)

	server := NewServer("127.0.0.1:0", ctrl, placard.Disabled{}, messaging.NewRouter(ctrl), store)
	ts := httptest.NewServer(server.http.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, ts *httptest.Server, path string, into any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestExperiencesEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var all []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/experiences", &all))
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0]["id"])

	var one map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/experiences/alpha", &one))
	assert.Equal(t, "Alpha", one["title"])

	assert.Equal(t, http.StatusNotFound, getJSON(t, ts, "/experiences/ghost", nil))
}

func TestCurrentLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	// An empty display reads back as a bare object.
	var empty map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/current", &empty))
	assert.Empty(t, empty)

	resp, body := doJSON(t, ts, http.MethodPut, "/current", `{"id": "alpha"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	var current map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/current", &current))
	assert.Equal(t, "alpha", current["id"])
	assert.Equal(t, "A. Artist", current["artist"])
	assert.NotNil(t, current["start_time"])
	assert.Nil(t, current["end_time"])

	// A throttled follow-up set is refused while alpha is fresh.
	resp, _ = doJSON(t, ts, http.MethodPut, "/current?throttle=60", `{"id": "beta"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Unthrottled sets always go through.
	resp, body = doJSON(t, ts, http.MethodPut, "/current", `{"id": "beta"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/current", &current))
	assert.Equal(t, "beta", current["id"])
}

func TestCurrentPutValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodPut, "/current", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPut, "/current", `{"id": "ghost"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPut, "/current?throttle=-3", `{"id": "alpha"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCurrentPatch(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodPut, "/current", `{"id": "alpha"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, ts, http.MethodPatch, "/current", `{"id": "alpha", "end_time": 4102444800000, "lock": 2, "last_interaction": 1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(4102444800000), body["end_time"])
	assert.Equal(t, float64(2), body["lock"])
	assert.NotNil(t, body["last_interaction"])
	assert.NotNil(t, body["last_lock_update"])

	// A zero end time clears the override.
	resp, body = doJSON(t, ts, http.MethodPatch, "/current", `{"id": "alpha", "end_time": 0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["end_time"])
}

func TestCurrentPatchRequiresMatchingID(t *testing.T) {
	ts := newTestServer(t)

	// Nothing on the display yet; any id is stale.
	resp, _ := doJSON(t, ts, http.MethodPatch, "/current", `{"id": "alpha", "end_time": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPut, "/current", `{"id": "alpha"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPatch, "/current", `{"end_time": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "id is required")

	resp, _ = doJSON(t, ts, http.MethodPatch, "/current", `{"id": "beta", "end_time": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "stale id must not land")

	resp, _ = doJSON(t, ts, http.MethodPatch, "/current", `{"id": "alpha", "end_time": 0}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestScreenshotEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/screenshot?w=640&h=360&format=jpeg")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
}

func TestReleasesEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodPut, "/releases/gamma/abc123", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = doJSON(t, ts, http.MethodPut, "/releases/gamma/abc123", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var listed []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts, "/releases/gamma", &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "abc123", listed[0]["hash"])
	assert.Equal(t, false, listed[0]["current"])

	resp, _ = doJSON(t, ts, http.MethodPost, "/releases/gamma/abc123/activate", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, http.StatusOK, getJSON(t, ts, "/releases/gamma", &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, true, listed[0]["current"])

	resp, _ = doJSON(t, ts, http.MethodPost, "/releases/gamma/nope/activate", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
