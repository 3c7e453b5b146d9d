package placard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footron/footron/internal/experience"
)

// fakePlacard serves the panel's HTTP API on a unix socket and records what
// it was told to show.
type fakePlacard struct {
	mu         sync.Mutex
	experience ExperienceData
	url        URLData
	layout     string
}

func (f *fakePlacard) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/experience", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPut {
			_ = json.NewDecoder(r.Body).Decode(&f.experience)
			return
		}
		_ = json.NewEncoder(w).Encode(f.experience)
	})
	mux.HandleFunc("/url", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPut {
			_ = json.NewDecoder(r.Body).Decode(&f.url)
			return
		}
		_ = json.NewEncoder(w).Encode(f.url)
	})
	mux.HandleFunc("/layout", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.layout = body["layout"]
		f.mu.Unlock()
	})
	return mux
}

func startFakePlacard(t *testing.T) (*fakePlacard, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "placard.sock")
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	fake := &fakePlacard{}
	srv := &http.Server{Handler: fake.handler()}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })
	return fake, socketPath
}

func TestClientRoundTrip(t *testing.T) {
	fake, socketPath := startFakePlacard(t)
	c := New(socketPath)
	ctx := context.Background()

	data := ExperienceData{Title: "Aurora", Artist: "J. Smith", Description: "Lights."}
	require.NoError(t, c.SetExperience(ctx, data))
	got, err := c.Experience(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, c.SetURL(ctx, "https://example.edu/c/abc"))
	url, err := c.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.edu/c/abc", url.URL)

	require.NoError(t, c.SetLayout(ctx, PlacardHidden))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "hidden", fake.layout)
}

func TestClientGivesUpAfterRetry(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing.sock"))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Error(t, c.SetURL(ctx, "https://example.edu"))
}

func TestFromDisplayLayout(t *testing.T) {
	assert.Equal(t, PlacardFull, FromDisplayLayout(experience.LayoutHd))
	assert.Equal(t, PlacardSlim, FromDisplayLayout(experience.LayoutWide))
	assert.Equal(t, PlacardHidden, FromDisplayLayout(experience.LayoutFull))
	assert.Equal(t, PlacardSlim, FromDisplayLayout(experience.Layout("unknown")))
}
