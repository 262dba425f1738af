package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu      sync.Mutex
	entries map[string]Entry
	exits   chan ExitEvent
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("GET /api/entries", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		out := make([]Entry, 0, len(f.entries))
		for _, e := range f.entries {
			out = append(out, e)
		}
		write(w, http.StatusOK, out)
	})
	mux.HandleFunc("POST /api/entries", func(w http.ResponseWriter, r *http.Request) {
		var in EntryInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
			write(w, http.StatusBadRequest, ErrorResponse{Error: "invalid entry: Name failed \"required\""})
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		e := Entry{ID: "e1", Name: in.Name, ExecutablePath: in.ExecutablePath, Category: "general"}
		f.entries[e.ID] = e
		write(w, http.StatusCreated, e)
	})
	mux.HandleFunc("GET /api/entries/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		e, ok := f.entries[r.PathValue("id")]
		if !ok {
			write(w, http.StatusNotFound, ErrorResponse{Error: "entry not found"})
			return
		}
		write(w, http.StatusOK, e)
	})
	mux.HandleFunc("DELETE /api/entries/{id}", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusConflict, ErrorResponse{Error: "entry is running (pid 1000)"})
	})
	mux.HandleFunc("POST /api/entries/{id}/launch", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "e1":
			write(w, http.StatusOK, LaunchResult{Success: true, Outcome: "success", EntryID: "e1", PID: 1000, Message: "started (pid 1000)"})
		case "busy":
			write(w, http.StatusConflict, LaunchResult{Outcome: "already_running", EntryID: "busy", PID: 7, AlreadyRunning: true})
		case "bad":
			write(w, http.StatusUnprocessableEntity, LaunchResult{Outcome: "validation_failed", EntryID: "bad", Reason: "not_found", Error: "executable missing"})
		default:
			write(w, http.StatusNotFound, ErrorResponse{Error: "entry not found"})
		}
	})
	mux.HandleFunc("GET /api/running", func(w http.ResponseWriter, r *http.Request) {
		write(w, http.StatusOK, []RunningEntry{{EntryID: "e1", PID: 1000}})
	})
	mux.HandleFunc("GET /api/running/{id}", func(w http.ResponseWriter, r *http.Request) {
		re := RunningEntry{EntryID: r.PathValue("id"), PID: 1000}
		if r.URL.Query().Get("history") == "true" {
			re.History = []ResourceSample{{PID: 1000}, {PID: 1000}}
		}
		write(w, http.StatusOK, re)
	})
	mux.HandleFunc("GET /api/entries/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		write(w, http.StatusOK, []HistoryEvent{{Type: "exit", EntryID: r.PathValue("id"), ExitCode: 2}})
	})
	up := websocket.Upgrader{}
	mux.HandleFunc("GET /api/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for ev := range f.exits {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	f := &fakeAPI{entries: map[string]Entry{}, exits: make(chan ExitEvent, 4)}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(f.exits) })
	c := New(Config{BaseURL: srv.URL + "/api/", Timeout: 2 * time.Second, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	return c, f
}

func TestDefaults(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "http://localhost:8080/api", c.baseURL)
	assert.Equal(t, 10*time.Second, c.client.Timeout)
}

func TestEntries(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	assert.True(t, c.IsReachable(ctx))

	e, err := c.CreateEntry(ctx, EntryInput{Name: "SNES", ExecutablePath: "/emu/snes9x.exe"})
	require.NoError(t, err)
	assert.Equal(t, "e1", e.ID)

	got, err := c.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "SNES", got.Name)

	list, err := c.ListEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = c.GetEntry(ctx, "nope")
	assert.True(t, IsNotFound(err))

	_, err = c.CreateEntry(ctx, EntryInput{ExecutablePath: "/x.exe"})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.Contains(t, ae.Message, "required")

	err = c.DeleteEntry(ctx, "e1")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
}

func TestLaunchOutcomesAreResults(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	res, err := c.Launch(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1000, res.PID)

	res, err = c.Launch(ctx, "busy")
	require.NoError(t, err)
	assert.True(t, res.AlreadyRunning)
	assert.Equal(t, 7, res.PID)

	res, err = c.Launch(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, "validation_failed", res.Outcome)
	assert.Equal(t, "not_found", res.Reason)

	_, err = c.Launch(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestRunningAndHistory(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	running, err := c.Running(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, 1000, running[0].PID)

	one, err := c.RunningEntry(ctx, "e1", true)
	require.NoError(t, err)
	assert.Len(t, one.History, 2)

	events, err := c.History(ctx, "e1", 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 2, events[0].ExitCode)
}

func TestWatchExits(t *testing.T) {
	c, f := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ExitEvent, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.WatchExits(ctx, func(ev ExitEvent) {
			got <- ev
			cancel()
		})
	}()
	f.exits <- ExitEvent{EntryID: "e1", PID: 1000, Code: 3}

	select {
	case ev := <-got:
		assert.Equal(t, "e1", ev.EntryID)
		assert.Equal(t, 3, ev.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchExits did not return after cancel")
	}
}

func TestTokenAndContentType(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path+" "+r.Header.Get("Authorization")+" "+r.Header.Get("Content-Type"))
		mu.Unlock()
		if r.URL.Path == "/api/events" {
			conn, err := up.Upgrade(w, r, nil)
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"outcome":"success","entry_id":"e1","pid":1000}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/api", Timeout: 2 * time.Second, Token: "s3cret"})
	_, err := c.Launch(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, c.IsReachable(context.Background()))
	_ = c.WatchExits(context.Background(), func(ExitEvent) {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3)
	assert.Equal(t, "POST /api/entries/e1/launch Bearer s3cret application/json", seen[0])
	assert.Equal(t, "GET /api/running Bearer s3cret ", seen[1])
	assert.Equal(t, "GET /api/events Bearer s3cret ", seen[2])
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Running(context.Background())
	assert.Error(t, err)
}
