// Package proctest provides in-memory process handles and spawners so the
// launcher can be exercised without starting real children.
package proctest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/launchpad/internal/process"
)

// Handle is a process.Handle whose exit is triggered by the test.
type Handle struct {
	pid  int
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	st   process.ExitStatus

	killed atomic.Bool
}

func NewHandle(pid int) *Handle { return &Handle{pid: pid, done: make(chan struct{})} }

func (h *Handle) PID() int                 { return h.pid }
func (h *Handle) Done() <-chan struct{}    { return h.done }
func (h *Handle) Exit() process.ExitStatus { h.mu.Lock(); defer h.mu.Unlock(); return h.st }

// Terminate marks the handle exited with code. Later calls are ignored.
func (h *Handle) Terminate(code int) { h.finish(process.ExitStatus{Code: code, ExitedAt: time.Now()}) }

// Signal marks the handle terminated by the named signal.
func (h *Handle) Signal(name string) {
	h.finish(process.ExitStatus{Code: -1, Signal: name, ExitedAt: time.Now()})
}

// Kill records the call and terminates the handle with "killed".
func (h *Handle) Kill() error {
	h.killed.Store(true)
	h.Signal("killed")
	return nil
}

// Killed reports whether Kill was called.
func (h *Handle) Killed() bool { return h.killed.Load() }

func (h *Handle) finish(st process.ExitStatus) {
	h.once.Do(func() {
		h.mu.Lock()
		h.st = st
		h.mu.Unlock()
		close(h.done)
	})
}

// Spawner hands out Handles with increasing PIDs starting at 1000 and
// remembers every Spec it was asked to start.
type Spawner struct {
	// Err, when set, is returned by Spawn instead of a handle.
	Err error
	// Panic, when set, makes Spawn panic with this value.
	Panic any
	// Hook, when set, runs at the start of every Spawn.
	Hook func(process.Spec)

	calls   atomic.Int64
	nextPID atomic.Int64
	mu      sync.Mutex
	specs   []process.Spec
	handles []*Handle
}

func (s *Spawner) Spawn(spec process.Spec) (process.Handle, error) {
	s.calls.Add(1)
	if s.Hook != nil {
		s.Hook(spec)
	}
	if s.Panic != nil {
		panic(s.Panic)
	}
	s.mu.Lock()
	s.specs = append(s.specs, spec)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	h := NewHandle(int(1000 + s.nextPID.Add(1) - 1))
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h, nil
}

// Calls is the number of Spawn invocations, failed ones included.
func (s *Spawner) Calls() int { return int(s.calls.Load()) }

func (s *Spawner) Specs() []process.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]process.Spec(nil), s.specs...)
}

// Last returns the most recently spawned handle, or nil.
func (s *Spawner) Last() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}
