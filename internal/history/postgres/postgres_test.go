package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/launchpad/internal/history"
)

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	defer func() { _ = pg.Terminate(ctx) }()

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := New(connStr)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	t0 := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventLaunch, OccurredAt: t0, EntryID: "psx", PID: 77}))
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventExit, OccurredAt: t0.Add(time.Second), EntryID: "psx", PID: 77, ExitCode: 2, RunSeconds: 1,
	}))

	got, err := sink.Recent(ctx, "psx", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, history.EventExit, got[0].Type)
	assert.Equal(t, 2, got[0].ExitCode)
	assert.Equal(t, 77, got[1].PID)
}

func TestPostgresSink_EmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
