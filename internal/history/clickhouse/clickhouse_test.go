package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/launchpad/internal/history"
)

func setupClickHouseContainer(ctx context.Context, t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	c, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("clickhouse container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	ctx := context.Background()
	addr := setupClickHouseContainer(ctx, t)

	sink, err := New(Options{Addr: addr, Table: "launch_history"})
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	require.NoError(t, sink.EnsureTable(ctx))

	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventLaunch, OccurredAt: now, EntryID: "gba", PID: 12}))
	require.NoError(t, sink.Send(ctx, history.Event{
		Type: history.EventExit, OccurredAt: now.Add(time.Minute), EntryID: "gba", PID: 12, Signal: "terminated", RunSeconds: 60,
	}))

	var count uint64
	require.NoError(t, sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM launch_history WHERE entry_id = ?", "gba").Scan(&count))
	assert.EqualValues(t, 2, count)
}

func TestClickHouseSink_InvalidTable(t *testing.T) {
	_, err := New(Options{Addr: "localhost:9000", Table: "x; DROP TABLE y"})
	assert.Error(t, err)
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	_, err := New(Options{Addr: "invalid-host:9000"})
	assert.Error(t, err)
}
