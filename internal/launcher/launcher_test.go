package launcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/loykin/launchpad/internal/history"
	"github.com/loykin/launchpad/internal/pathguard"
	"github.com/loykin/launchpad/internal/process"
	"github.com/loykin/launchpad/internal/process/proctest"
)

const (
	snesExe = "/emu/snes/snes9x.exe"
	romDir  = "/emu/roms"
)

type fixture struct {
	l     *Launcher
	sp    *proctest.Spawner
	clock *clockwork.FakeClock
	exits chan ExitEvent
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/emu/snes", 0o755))
	require.NoError(t, fsys.MkdirAll(romDir, 0o755))
	require.NoError(t, afero.WriteFile(fsys, snesExe, []byte("MZ"), 0o755))

	f := &fixture{
		sp:    &proctest.Spawner{},
		clock: clockwork.NewFakeClock(),
		exits: make(chan ExitEvent, 64),
	}
	base := []Option{
		WithGuard(pathguard.New(pathguard.WithFs(fsys))),
		WithSpawner(f.sp),
		WithClock(f.clock),
		WithLogger(quietLogger()),
		WithProbeDelay(0),
	}
	f.l = New(append(base, opts...)...)
	f.l.Subscribe(ObserverFunc(func(e ExitEvent) { f.exits <- e }))
	t.Cleanup(f.l.Close)
	return f
}

func (f *fixture) launch(id string) Result {
	return f.l.Launch(context.Background(), Request{EntryID: id, ExecutablePath: snesExe})
}

func (f *fixture) nextExit(t *testing.T) ExitEvent {
	t.Helper()
	select {
	case e := <-f.exits:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no exit event delivered")
	}
	return ExitEvent{}
}

func (f *fixture) noMoreExits(t *testing.T) {
	t.Helper()
	select {
	case e := <-f.exits:
		t.Fatalf("unexpected extra exit event: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func strptr(s string) *string { return &s }

func TestLaunchTrackExit(t *testing.T) {
	f := newFixture(t)

	// A: first launch succeeds and is tracked
	res := f.launch("e1")
	require.True(t, res.Success(), res.Message())
	require.NotNil(t, res.Handle)
	assert.Equal(t, res.Handle.PID(), res.PID)
	tr, running := f.l.IsRunning("e1")
	require.True(t, running)
	assert.Same(t, res.Handle, tr.Handle)

	// B: second launch while alive is refused without spawning
	again := f.launch("e1")
	assert.True(t, again.AlreadyRunning())
	assert.False(t, again.Success())
	assert.Equal(t, res.PID, again.PID)
	assert.Equal(t, 1, f.sp.Calls())

	// C: exit untracks and notifies exactly once
	f.sp.Last().Terminate(0)
	ev := f.nextExit(t)
	assert.Equal(t, "e1", ev.EntryID)
	assert.Equal(t, res.PID, ev.PID)
	_, running = f.l.IsRunning("e1")
	assert.False(t, running)
	f.noMoreExits(t)
}

func TestLaunchMissingExecutable(t *testing.T) {
	f := newFixture(t)
	res := f.l.Launch(context.Background(), Request{EntryID: "e2", ExecutablePath: `C:\nonexistent\app.exe`})
	assert.Equal(t, OutcomeValidationFailed, res.Outcome)
	assert.Equal(t, pathguard.ReasonNotFound, res.Reason)
	assert.NotEmpty(t, res.Error)
	assert.Zero(t, f.sp.Calls())
	assert.Zero(t, f.l.Registry().Len())
}

func TestValidationShortCircuitsSpawn(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want pathguard.Reason
	}{
		{"empty path", Request{EntryID: "x"}, pathguard.ReasonEmptyPath},
		{"bad extension", Request{EntryID: "x", ExecutablePath: "/emu/snes/readme.txt"}, pathguard.ReasonExtensionNotAllowed},
		{"traversal", Request{EntryID: "x", ExecutablePath: "/emu/roms/../snes/snes9x.exe"}, pathguard.ReasonTraversal},
		{"directory", Request{EntryID: "x", ExecutablePath: "/emu/snes"}, pathguard.ReasonExtensionNotAllowed},
		{"workdir empty", Request{EntryID: "x", ExecutablePath: snesExe, WorkingDirectory: strptr("")}, pathguard.ReasonEmptyPath},
		{"workdir missing", Request{EntryID: "x", ExecutablePath: snesExe, WorkingDirectory: strptr("/emu/nope")}, pathguard.ReasonNotFound},
		{"workdir is file", Request{EntryID: "x", ExecutablePath: snesExe, WorkingDirectory: strptr(snesExe)}, pathguard.ReasonNotADirectory},
		{"workdir traversal", Request{EntryID: "x", ExecutablePath: snesExe, WorkingDirectory: strptr(`..\roms`)}, pathguard.ReasonTraversal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.l.Launch(context.Background(), tc.req)
			assert.Equal(t, OutcomeValidationFailed, res.Outcome)
			assert.Equal(t, tc.want, res.Reason)
			assert.Contains(t, res.Message(), "cannot launch")
			assert.Zero(t, f.sp.Calls(), "spawn must not be attempted")
			_, running := f.l.IsRunning("x")
			assert.False(t, running)
		})
	}
}

func TestLaunchPassesSanitizedArgsAndWorkDir(t *testing.T) {
	f := newFixture(t)
	res := f.l.Launch(context.Background(), Request{
		EntryID:          "snes",
		ExecutablePath:   snesExe,
		Arguments:        "--fullscreen --rom=mario.sfc; rm -rf /",
		WorkingDirectory: strptr(romDir),
	})
	require.True(t, res.Success())
	specs := f.sp.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "snes", specs[0].EntryID)
	assert.Equal(t, snesExe, specs[0].Path)
	assert.Equal(t, []string{"--fullscreen", "--rom=mario.sfc"}, specs[0].Args)
	assert.Equal(t, romDir, specs[0].WorkDir)
}

func TestNilWorkingDirectoryInherits(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.launch("snes").Success())
	assert.Empty(t, f.sp.Specs()[0].WorkDir)
}

func TestSpawnFailureLeavesRegistryUntouched(t *testing.T) {
	f := newFixture(t)
	f.sp.Err = errors.New("permission denied")

	res := f.launch("snes")
	assert.Equal(t, OutcomeSpawnFailed, res.Outcome)
	assert.Equal(t, "permission denied", res.Error)
	assert.Equal(t, "failed to start process: permission denied", res.Message())
	assert.Nil(t, res.Handle)
	assert.Zero(t, f.l.Registry().Len())

	// not retried, but a new explicit launch may succeed
	f.sp.Err = nil
	assert.True(t, f.launch("snes").Success())
	assert.Equal(t, 2, f.sp.Calls())
}

func TestPanicBecomesSpawnFailed(t *testing.T) {
	f := newFixture(t)
	f.sp.Panic = "boom"
	res := f.launch("snes")
	assert.Equal(t, OutcomeSpawnFailed, res.Outcome)
	assert.Equal(t, "internal error", res.Error)

	// the launch lock must have been released
	f.sp.Panic = nil
	assert.True(t, f.launch("snes").Success())
}

func TestCancelledContextBeforeSpawn(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.l.Launch(ctx, Request{EntryID: "snes", ExecutablePath: snesExe})
	assert.Equal(t, OutcomeSpawnFailed, res.Outcome)
	assert.Zero(t, f.sp.Calls())
}

func TestRelaunchAfterExitCreatesNewRun(t *testing.T) {
	f := newFixture(t)
	first := f.launch("snes")
	require.True(t, first.Success())
	f.sp.Last().Terminate(0)
	f.nextExit(t)

	second := f.launch("snes")
	require.True(t, second.Success())
	assert.NotEqual(t, first.PID, second.PID)
	assert.Equal(t, 2, f.sp.Calls())
}

func TestConcurrentLaunchSingleInstance(t *testing.T) {
	f := newFixture(t)
	const n = 50
	results := make([]Result, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = f.launch("same")
		}(i)
	}
	close(start)
	wg.Wait()

	success := 0
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSuccess:
			success++
		case OutcomeAlreadyRunning:
		default:
			t.Fatalf("unexpected outcome %q", r.Outcome)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, f.sp.Calls())
	assert.Equal(t, 1, f.l.Registry().Len())
}

func TestIndependentEntriesRunTogether(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.launch("a").Success())
	require.True(t, f.launch("b").Success())
	assert.Len(t, f.l.ListRunning(), 2)
}

func TestSignalExitIsReconciled(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.launch("snes").Success())
	f.sp.Last().Signal("killed")
	ev := f.nextExit(t)
	assert.Equal(t, "killed", ev.Signal)
	assert.Equal(t, -1, ev.Code)
	_, running := f.l.IsRunning("snes")
	assert.False(t, running)
}

func TestObserversInOrderAndPanicIsolated(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var order []string
	f.l.Subscribe(ObserverFunc(func(ExitEvent) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		panic("observer bug")
	}))
	f.l.Subscribe(ObserverFunc(func(ExitEvent) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	}))

	require.True(t, f.launch("snes").Success())
	f.sp.Last().Terminate(0)
	f.nextExit(t)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)
	got := make(chan ExitEvent, 1)
	unsub := f.l.Subscribe(ObserverFunc(func(e ExitEvent) { got <- e }))
	unsub()
	unsub() // idempotent

	require.True(t, f.launch("snes").Success())
	f.sp.Last().Terminate(0)
	f.nextExit(t)
	select {
	case e := <-got:
		t.Fatalf("unsubscribed observer received %+v", e)
	default:
	}
	assert.NotPanics(t, func() { f.l.Subscribe(nil)() })
}

func TestStartupProbe(t *testing.T) {
	probed := make(chan int, 1)
	f := newFixture(t, WithProbeDelay(3*time.Second), WithProbe(func(pid int) bool {
		probed <- pid
		return true
	}))
	res := f.launch("snes")
	require.True(t, res.Success())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(3 * time.Second)

	select {
	case pid := <-probed:
		assert.Equal(t, res.PID, pid)
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not run")
	}
	_, running := f.l.IsRunning("snes")
	assert.True(t, running, "probe must not affect tracking")
}

func TestCloseCancelsProbeAndStopsWatchers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	probed := make(chan int, 1)
	f := newFixture(t, WithProbeDelay(time.Second), WithProbe(func(pid int) bool {
		probed <- pid
		return true
	}))
	require.True(t, f.launch("a").Success())
	require.True(t, f.launch("b").Success())

	f.l.Close()
	f.l.Close()
	f.clock.Advance(time.Minute)
	select {
	case <-probed:
		t.Fatal("probe ran after Close")
	case <-time.After(50 * time.Millisecond):
	}

	res := f.launch("c")
	assert.Equal(t, OutcomeSpawnFailed, res.Outcome)
	assert.Equal(t, errClosed.Error(), res.Error)
}

func TestReconcileGoroutinesDoNotLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f := newFixture(t)
	for i := 0; i < 5; i++ {
		require.True(t, f.launch("snes").Success())
		f.sp.Last().Terminate(i)
		assert.Equal(t, i, f.nextExit(t).Code)
	}
	f.l.Close()
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) snapshot() []history.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Event(nil), m.events...)
}

func TestHistoryEvents(t *testing.T) {
	sink := &memSink{}
	f := newFixture(t, WithHistory(sink))

	res := f.launch("snes")
	require.True(t, res.Success())
	f.clock.Advance(90 * time.Second)
	f.sp.Last().Terminate(3)
	f.nextExit(t)

	evs := sink.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, history.EventLaunch, evs[0].Type)
	assert.Equal(t, res.PID, evs[0].PID)
	assert.Equal(t, history.EventExit, evs[1].Type)
	assert.Equal(t, 3, evs[1].ExitCode)
	assert.InDelta(t, 90, evs[1].RunSeconds, 0.001)

	// refused launches are not history
	f.l.Launch(context.Background(), Request{EntryID: "x", ExecutablePath: "/nope.exe"})
	assert.Len(t, sink.snapshot(), 2)
}

// gatedSink holds launch events until release is closed.
type gatedSink struct {
	memSink
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSink) Send(ctx context.Context, e history.Event) error {
	_ = g.memSink.Send(ctx, e)
	if e.Type == history.EventLaunch {
		close(g.entered)
		<-g.release
	}
	return nil
}

func TestImmediateExitRecordedAfterLaunch(t *testing.T) {
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, WithHistory(sink))

	done := make(chan Result, 1)
	go func() { done <- f.launch("snes") }()
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("launch event not recorded")
	}
	f.sp.Last().Terminate(1)
	f.noMoreExits(t)

	close(sink.release)
	res := <-done
	require.True(t, res.Success())
	ev := f.nextExit(t)
	assert.Equal(t, 1, ev.Code)

	evs := sink.snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, history.EventLaunch, evs[0].Type)
	assert.Equal(t, history.EventExit, evs[1].Type)
	_, running := f.l.IsRunning("snes")
	assert.False(t, running)
}

func TestUntrackableChildIsKilled(t *testing.T) {
	f := newFixture(t)
	squatter := proctest.NewHandle(42)
	f.sp.Hook = func(spec process.Spec) {
		_ = f.l.Registry().Register(spec.EntryID, squatter, time.Now())
	}

	res := f.launch("e1")
	assert.Equal(t, OutcomeSpawnFailed, res.Outcome)
	assert.Contains(t, res.Error, "could not be tracked")
	orphan := f.sp.Last()
	require.NotNil(t, orphan)
	assert.True(t, orphan.Killed())

	tr, ok := f.l.IsRunning("e1")
	require.True(t, ok)
	assert.Equal(t, 42, tr.PID)
	f.noMoreExits(t)
}

func TestResultMessages(t *testing.T) {
	assert.Equal(t, "started (pid 12)", Result{Outcome: OutcomeSuccess, PID: 12}.Message())
	assert.Contains(t, Result{Outcome: OutcomeAlreadyRunning, PID: 12}.Message(), "already running (pid 12)")
	assert.Equal(t, `cannot launch: executable "/x.exe" does not exist`,
		Result{Outcome: OutcomeValidationFailed, Error: `executable "/x.exe" does not exist`}.Message())
}

func TestLaunchRealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script")
	}
	dir := t.TempDir()
	exe := filepath.Join(dir, "game.exe")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nexit 7\n"), 0o755))

	l := New(WithLogger(quietLogger()), WithProbeDelay(0))
	defer l.Close()
	exits := make(chan ExitEvent, 1)
	l.Subscribe(ObserverFunc(func(e ExitEvent) { exits <- e }))

	res := l.Launch(context.Background(), Request{EntryID: "game", ExecutablePath: exe, WorkingDirectory: strptr(dir)})
	require.True(t, res.Success(), res.Message())

	select {
	case e := <-exits:
		assert.Equal(t, "game", e.EntryID)
		assert.Equal(t, 7, e.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("real process exit not reconciled")
	}
	_, running := l.IsRunning("game")
	assert.False(t, running)
}
