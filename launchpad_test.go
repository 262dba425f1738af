package launchpad

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/launchpad/internal/process/proctest"
	tlsx "github.com/loykin/launchpad/internal/tls"
	"github.com/loykin/launchpad/pkg/client"
)

func testConfig(t *testing.T) (Config, string) {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "snes9x.exe")
	require.NoError(t, os.WriteFile(exe, []byte("MZ"), 0o755))

	cfg := DefaultConfig()
	cfg.Store.DSN = filepath.Join(dir, "launchpad.db")
	cfg.History.Sinks = []string{"sqlite://" + filepath.Join(dir, "history.db")}
	cfg.Launch.StartupProbe = 0
	cfg.Server.Listen = "127.0.0.1:0"
	return cfg, exe
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestEndToEnd(t *testing.T) {
	cfg, exe := testConfig(t)
	sp := &proctest.Spawner{}
	lp, err := New(cfg, WithLogger(quiet()), WithSpawner(sp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lp.Close() })
	ctx := context.Background()

	exits := make(chan ExitEvent, 1)
	lp.Subscribe(ObserverFunc(func(e ExitEvent) { exits <- e }))

	e, err := lp.CreateEntry(ctx, Entry{Name: "SNES", ExecutablePath: exe, Arguments: "--fullscreen"})
	require.NoError(t, err)

	res, err := lp.LaunchEntry(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, res.Success(), res.Message())

	again, err := lp.LaunchEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyRunning, again.Outcome)
	assert.Equal(t, 1, sp.Calls())
	assert.ErrorIs(t, lp.DeleteEntry(ctx, e.ID), ErrEntryRunning)

	sp.Last().Terminate(0)
	select {
	case ev := <-exits:
		assert.Equal(t, e.ID, ev.EntryID)
	case <-time.After(2 * time.Second):
		t.Fatal("no exit event")
	}
	_, running := lp.IsRunning(e.ID)
	assert.False(t, running)

	v, err := lp.GetEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.LaunchCount)

	events, err := lp.Service().EntryHistory(ctx, e.ID, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	require.NoError(t, lp.DeleteEntry(ctx, e.ID))
	_, err = lp.GetEntry(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewFailsOnBadStore(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Store.DSN = "mysql://root@localhost/db"
	_, err := New(cfg, WithLogger(quiet()))
	assert.Error(t, err)

	cfg, _ = testConfig(t)
	cfg.History.Sinks = []string{"kafka://broker/topic"}
	_, err = New(cfg, WithLogger(quiet()))
	assert.Error(t, err)
}

func TestAdHocLaunchValidation(t *testing.T) {
	cfg, _ := testConfig(t)
	lp, err := New(cfg, WithLogger(quiet()), WithSpawner(&proctest.Spawner{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lp.Close() })

	empty := ""
	res := lp.Launch(context.Background(), Request{EntryID: "x", ExecutablePath: "/nope/../x.exe", WorkingDirectory: &empty})
	assert.Equal(t, OutcomeValidationFailed, res.Outcome)
}

func TestServe(t *testing.T) {
	cfg, exe := testConfig(t)
	lp, err := New(cfg, WithLogger(quiet()), WithSpawner(&proctest.Spawner{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lp.Close() })
	_, err = lp.CreateEntry(context.Background(), Entry{Name: "SNES", ExecutablePath: exe})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lp.serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/api/entries", ln.Addr())
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	assert.Len(t, entries, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServeTLS(t *testing.T) {
	cfg, exe := testConfig(t)
	certDir := filepath.Join(t.TempDir(), "tls")
	cfg.Server.TLS = tlsx.Development(certDir)
	lp, err := New(cfg, WithLogger(quiet()), WithSpawner(&proctest.Spawner{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = lp.Close() })
	_, err = lp.CreateEntry(context.Background(), Entry{Name: "SNES", ExecutablePath: exe})
	require.NoError(t, err)

	ln, err := lp.listen()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lp.serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cl := client.New(client.Config{
		BaseURL: fmt.Sprintf("https://%s/api", ln.Addr()),
		Timeout: 5 * time.Second,
		TLS:     &client.TLSClientConfig{Enabled: true, CACert: tlsx.CACertPath(cfg.Server.TLS)},
	})
	var entries []client.Entry
	require.Eventually(t, func() bool {
		entries, err = cl.ListEntries(context.Background())
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	require.Len(t, entries, 1)
	assert.Equal(t, "SNES", entries[0].Name)
}

func TestPackageHelpers(t *testing.T) {
	_, exe := testConfig(t)
	assert.True(t, IsValidExecutablePath(exe))
	assert.True(t, IsValidWorkingDirectory(filepath.Dir(exe)))
	assert.Equal(t, []string{"--fullscreen"}, SanitizeArguments("--fullscreen; rm -rf /"))
}
