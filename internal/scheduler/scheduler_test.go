package scheduler

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/footron/footron/internal/config"
	"github.com/footron/footron/internal/experience"
)

func strPtr(s string) *string { return &s }

func msAt(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

func TestShouldAdvance(t *testing.T) {
	now := time.Now()
	start := msAt(now.Add(-30 * time.Second))

	base := CurrentState{
		ID:        strPtr("exp"),
		Lifetime:  60,
		StartTime: start,
	}

	cases := []struct {
		name   string
		mutate func(*CurrentState)
		want   bool
	}{
		{"empty display advances", func(c *CurrentState) { c.ID = nil }, true},
		{"within lifetime holds", func(c *CurrentState) {}, false},
		{"past lifetime advances", func(c *CurrentState) {
			c.StartTime = msAt(now.Add(-2 * time.Minute))
		}, true},
		{"closed lock holds", func(c *CurrentState) {
			c.Lock = experience.LockStatus{Closed: true}
			c.StartTime = msAt(now.Add(-2 * time.Minute))
		}, false},
		{"limit lock holds", func(c *CurrentState) {
			c.Lock = experience.LockStatus{Limit: 2}
			c.StartTime = msAt(now.Add(-2 * time.Minute))
		}, false},
		{"broken seal advances immediately", func(c *CurrentState) {
			c.LastLockUpdate = msAt(now.Add(-time.Second))
		}, true},
		{"future end time holds past lifetime", func(c *CurrentState) {
			c.StartTime = msAt(now.Add(-2 * time.Minute))
			c.EndTime = msAt(now.Add(time.Minute))
		}, false},
		{"past end time advances within lifetime", func(c *CurrentState) {
			c.EndTime = msAt(now.Add(-time.Second))
		}, true},
		{"recent interaction holds past lifetime", func(c *CurrentState) {
			c.StartTime = msAt(now.Add(-2 * time.Minute))
			c.LastInteraction = msAt(now.Add(-10 * time.Second))
		}, false},
		{"stale interaction does not hold", func(c *CurrentState) {
			c.StartTime = msAt(now.Add(-2 * time.Minute))
			c.LastInteraction = msAt(now.Add(-config.InteractionTimeout - time.Second))
		}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			current := base
			tc.mutate(&current)
			assert.Equal(t, tc.want, shouldAdvance(current, now))
		})
	}
}

func TestClientSetCurrentThrottled(t *testing.T) {
	var gotThrottle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotThrottle = r.URL.Query().Get("throttle")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	err := client.SetCurrent(context.Background(), "exp", 5*time.Second)
	assert.ErrorIs(t, err, ErrThrottled)
	assert.Equal(t, "5", gotThrottle)
}

func TestSchedulerRebuildAndCommercialCadence(t *testing.T) {
	catalog := []*experience.Experience{
		{ID: "main-1", Queueable: true},
		{ID: "main-2", Queueable: true},
		{ID: "ad-1", Queueable: true},
		{ID: "hidden", Queueable: true, Unlisted: true},
		{ID: "manual-only"},
	}
	collections := map[string]experience.Collection{
		"commercials": {ID: "commercials", Experiences: []string{"ad-1"}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/experiences":
			_ = json.NewEncoder(w).Encode(catalog)
		case "/collections":
			_ = json.NewEncoder(w).Encode(collections)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := New(NewClient(srv.URL))
	s.rng = rand.New(rand.NewSource(1))
	require.NoError(t, s.rebuild(context.Background()))

	// The main deck cycles over the queueable, listed, non-commercial pool.
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		id, ok := s.main.Pop()
		require.True(t, ok)
		seen[id] = true
	}
	assert.True(t, seen["main-1"])
	assert.True(t, seen["main-2"])
	assert.False(t, seen["ad-1"], "commercials stay out of the main rotation")
	assert.False(t, seen["hidden"], "unlisted experiences never rotate")
	assert.False(t, seen["manual-only"], "non-queueable experiences never rotate")

	// A commercial is due immediately, then not again until the interval.
	fixed := time.Now()
	s.now = func() time.Time { return fixed }
	id, ok := s.pick()
	require.True(t, ok)
	assert.Equal(t, "ad-1", id)

	id, ok = s.pick()
	require.True(t, ok)
	assert.NotEqual(t, "ad-1", id, "commercial cadence enforced")

	fixed = fixed.Add(config.CommercialInterval)
	id, ok = s.pick()
	require.True(t, ok)
	assert.Equal(t, "ad-1", id)
}

func TestTickBuildsPlaylistForEmptyDisplay(t *testing.T) {
	catalog := []*experience.Experience{
		{ID: "solo", Queueable: true},
	}
	var setIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/current":
			var body struct {
				ID string `json:"id"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			setIDs = append(setIDs, body.ID)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case r.URL.Path == "/current":
			// An empty display reads back as a bare object.
			_, _ = w.Write([]byte("{}"))
		case r.URL.Path == "/experiences":
			_ = json.NewEncoder(w).Encode(catalog)
		case r.URL.Path == "/collections":
			_ = json.NewEncoder(w).Encode(map[string]experience.Collection{})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := New(NewClient(srv.URL))
	s.rng = rand.New(rand.NewSource(1))
	s.tick(context.Background())

	require.NotNil(t, s.main, "first tick against an empty display must build the playlist")
	require.Equal(t, []string{"solo"}, setIDs, "empty display advances immediately")
}
