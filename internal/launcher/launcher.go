// Package launcher starts entries as detached processes and keeps the
// registry of running entries in step with the children's lifetimes.
//
// Launch is the only path that adds to the registry; the exit watcher it
// starts for every spawned child is the only path that removes from it.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/loykin/launchpad/internal/history"
	"github.com/loykin/launchpad/internal/metrics"
	"github.com/loykin/launchpad/internal/pathguard"
	"github.com/loykin/launchpad/internal/process"
	"github.com/loykin/launchpad/internal/registry"
	"github.com/loykin/launchpad/internal/syncutil"
)

const sinkTimeout = 5 * time.Second

var errClosed = errors.New("launcher is closed")

type Launcher struct {
	reg        *registry.Registry
	guard      *pathguard.Guard
	spawner    process.Spawner
	clock      clockwork.Clock
	log        *slog.Logger
	probeDelay time.Duration
	alive      func(pid int) bool
	sinks      []history.Sink

	// launchMu serializes check, spawn and register so two concurrent
	// launches of one entry cannot both pass the duplicate check.
	launchMu syncutil.Mutex
	closed   bool
	quit     chan struct{}
	wg       sync.WaitGroup

	probeMu   syncutil.Mutex
	probes    map[uint64]clockwork.Timer
	nextProbe uint64

	obsMu     syncutil.Mutex
	observers []subscription
	nextSub   uint64
}

func New(opts ...Option) *Launcher {
	l := &Launcher{
		reg:        registry.New(),
		probeDelay: DefaultProbeDelay,
		quit:       make(chan struct{}),
		probes:     make(map[uint64]clockwork.Timer),
	}
	for _, o := range opts {
		o(l)
	}
	if l.guard == nil {
		l.guard = pathguard.New()
	}
	if l.spawner == nil {
		l.spawner = process.OSSpawner{}
	}
	if l.clock == nil {
		l.clock = clockwork.NewRealClock()
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.alive == nil {
		l.alive = process.Alive
	}
	return l
}

// Registry exposes the launcher's registry for read-only use. Launch and
// the exit watchers are its only writers.
func (l *Launcher) Registry() *registry.Registry { return l.reg }

// Launch validates req, spawns the executable detached, and tracks it until
// it exits. ctx bounds only the work before the spawn; cancelling it never
// affects a started child.
func (l *Launcher) Launch(ctx context.Context, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("launch panicked", "entry", req.EntryID, "panic", r)
			res = Result{Outcome: OutcomeSpawnFailed, EntryID: req.EntryID, Error: "internal error"}
		}
		metrics.IncLaunch(string(res.Outcome))
	}()

	res, r := l.launchLocked(ctx, req)
	if r != nil {
		// The watcher holds the exit back until the launch is recorded.
		defer close(r.launched)
		l.record(ctx, history.Event{
			Type:       history.EventLaunch,
			OccurredAt: r.startedAt,
			EntryID:    r.entryID,
			PID:        res.PID,
		})
	}
	return res
}

func (l *Launcher) launchLocked(ctx context.Context, req Request) (Result, *run) {
	l.launchMu.Lock()
	defer l.launchMu.Unlock()

	res := Result{EntryID: req.EntryID}
	if l.closed {
		res.Outcome = OutcomeSpawnFailed
		res.Error = errClosed.Error()
		return res, nil
	}

	if t, ok := l.reg.IsRunning(req.EntryID); ok {
		l.log.Info("launch refused, entry already running", "entry", req.EntryID, "pid", t.PID)
		res.Outcome = OutcomeAlreadyRunning
		res.PID = t.PID
		res.Handle = t.Handle
		return res, nil
	}

	if err := l.validate(req); err != nil {
		var ge *pathguard.Error
		if errors.As(err, &ge) {
			res.Reason = ge.Reason
			metrics.IncRejection(string(ge.Reason))
		}
		l.log.Warn("launch rejected", "entry", req.EntryID, "error", err)
		res.Outcome = OutcomeValidationFailed
		res.Error = err.Error()
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeSpawnFailed
		res.Error = err.Error()
		return res, nil
	}

	spec := process.Spec{
		EntryID: req.EntryID,
		Path:    req.ExecutablePath,
		Args:    l.guard.SanitizeArguments(req.Arguments),
	}
	if req.WorkingDirectory != nil {
		spec.WorkDir = *req.WorkingDirectory
	}
	h, err := l.spawner.Spawn(spec)
	if err == nil && h == nil {
		err = errors.New("spawner returned no handle")
	}
	if err != nil {
		l.log.Error("spawn failed", "entry", req.EntryID, "path", spec.Path, "error", err)
		res.Outcome = OutcomeSpawnFailed
		res.Error = err.Error()
		return res, nil
	}

	r := &run{entryID: req.EntryID, handle: h, startedAt: l.clock.Now(), launched: make(chan struct{})}
	if err := l.reg.Register(req.EntryID, h, r.startedAt); err != nil {
		// Only reachable if a caller wrote to Registry() directly. An
		// untracked child would break single-instance, so it is stopped.
		l.log.Error("register after spawn failed", "entry", req.EntryID, "pid", h.PID(), "error", err)
		if kerr := h.Kill(); kerr != nil {
			l.log.Error("kill untracked process failed", "entry", req.EntryID, "pid", h.PID(), "error", kerr)
		}
		res.Outcome = OutcomeSpawnFailed
		res.Error = fmt.Sprintf("process %d started but could not be tracked: %v", h.PID(), err)
		return res, nil
	}
	metrics.SetRunning(l.reg.Len())

	l.wg.Add(1)
	go l.watch(r)
	l.scheduleProbe(r)

	l.log.Info("process launched", "entry", req.EntryID, "pid", h.PID(), "path", spec.Path, "args", len(spec.Args))
	res.Outcome = OutcomeSuccess
	res.PID = h.PID()
	res.Handle = h
	return res, r
}

func (l *Launcher) validate(req Request) error {
	if err := l.guard.CheckExecutable(req.ExecutablePath); err != nil {
		return err
	}
	if req.WorkingDirectory == nil {
		return nil
	}
	if *req.WorkingDirectory == "" {
		return &pathguard.Error{Field: pathguard.FieldWorkingDir, Reason: pathguard.ReasonEmptyPath}
	}
	return l.guard.CheckWorkingDirectory(*req.WorkingDirectory)
}

// IsRunning reports whether entryID currently has a live child.
func (l *Launcher) IsRunning(entryID string) (registry.Tracked, bool) {
	return l.reg.IsRunning(entryID)
}

func (l *Launcher) ListRunning() []registry.Tracked { return l.reg.List() }

// Close stops exit watchers and pending probes. Children keep running;
// their exits are no longer reconciled. Launch after Close fails.
func (l *Launcher) Close() {
	l.launchMu.Lock()
	if l.closed {
		l.launchMu.Unlock()
		return
	}
	l.closed = true
	close(l.quit)
	l.launchMu.Unlock()

	l.probeMu.Lock()
	for id, t := range l.probes {
		t.Stop()
		delete(l.probes, id)
	}
	l.probeMu.Unlock()
	l.wg.Wait()
}

func (l *Launcher) scheduleProbe(r *run) {
	if l.probeDelay <= 0 {
		return
	}
	l.probeMu.Lock()
	defer l.probeMu.Unlock()
	l.nextProbe++
	id := l.nextProbe
	l.probes[id] = l.clock.AfterFunc(l.probeDelay, func() {
		l.probeMu.Lock()
		_, pending := l.probes[id]
		delete(l.probes, id)
		l.probeMu.Unlock()
		if pending {
			l.probe(r)
		}
	})
}

// probe logs whether the child still looks alive. It never touches the
// registry or the launch result.
func (l *Launcher) probe(r *run) {
	pid := r.handle.PID()
	switch {
	case r.exited():
		l.log.Info("process exited before startup probe", "entry", r.entryID, "pid", pid)
	case l.alive(pid):
		l.log.Info("process appears to have started", "entry", r.entryID, "pid", pid, "after", l.probeDelay)
	default:
		l.log.Warn("process not visible at startup probe", "entry", r.entryID, "pid", pid)
	}
}

func (l *Launcher) record(ctx context.Context, e history.Event) {
	if len(l.sinks) == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	history.Fanout(sctx, l.log, l.sinks, e)
}
