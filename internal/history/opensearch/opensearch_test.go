package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/launchpad/internal/history"
)

func TestSendIndexesMonthlyWithStableID(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotQuery  string
		gotUser   string
		gotBody   []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUser, _, _ = r.BasicAuth()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink, err := New(Options{URL: server.URL + "/", Index: "launches", Username: "admin", Password: "pw"})
	require.NoError(t, err)
	at := time.Date(2024, 5, 4, 20, 0, 0, 0, time.UTC)
	err = sink.Send(context.Background(), history.Event{
		Type: history.EventExit, OccurredAt: at, EntryID: "snes", PID: 99, ExitCode: 1, RunSeconds: 12.5,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/launches-2024.05/_doc/snes-99-exit-1714852800000000000", gotPath)
	assert.Equal(t, "op_type=create", gotQuery)
	assert.Equal(t, "admin", gotUser)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &doc))
	assert.Equal(t, "2024-05-04T20:00:00Z", doc["@timestamp"])
	assert.Equal(t, "exit", doc["type"])
	assert.Equal(t, "snes", doc["entry_id"])
	assert.EqualValues(t, 99, doc["pid"])
	assert.EqualValues(t, 12.5, doc["run_seconds"])
}

func TestSendTreatsConflictAsDelivered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer server.Close()

	sink, err := New(Options{URL: server.URL})
	require.NoError(t, err)
	assert.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventLaunch, OccurredAt: time.Now()}))
}

func TestSendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer server.Close()

	sink, err := New(Options{URL: server.URL, Index: "launches"})
	require.NoError(t, err)
	err = sink.Send(context.Background(), history.Event{Type: history.EventLaunch, OccurredAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "mapper_parsing_exception")

	err = sink.Send(context.Background(), history.Event{Type: history.EventLaunch})
	assert.ErrorContains(t, err, "no timestamp")
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{URL: "localhost:9200"})
	assert.Error(t, err)
	_, err = New(Options{URL: "http://localhost:9200", Index: "Bad Index"})
	assert.Error(t, err)

	s, err := New(Options{URL: "http://localhost:9200"})
	require.NoError(t, err)
	assert.Equal(t, DefaultIndex+"-2023.12", s.IndexFor(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)))
}
