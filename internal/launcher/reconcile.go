package launcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/loykin/launchpad/internal/history"
	"github.com/loykin/launchpad/internal/metrics"
	"github.com/loykin/launchpad/internal/process"
)

const (
	stateRunning int32 = iota
	stateExited
)

// run is the per-child state machine: Running -> Exited, once.
type run struct {
	entryID   string
	handle    process.Handle
	startedAt time.Time
	state     atomic.Int32
	// launched is closed once the launch event has been recorded.
	launched chan struct{}
}

func (r *run) markExited() bool { return r.state.CompareAndSwap(stateRunning, stateExited) }

func (r *run) exited() bool { return r.state.Load() == stateExited }

func (l *Launcher) watch(r *run) {
	defer l.wg.Done()
	select {
	case <-r.handle.Done():
	case <-l.quit:
		return
	}
	select {
	case <-r.launched:
		l.reconcile(r)
	case <-l.quit:
	}
}

// reconcile untracks the entry and tells observers. Only the first call per run has an effect.
func (l *Launcher) reconcile(r *run) {
	if !r.markExited() {
		return
	}
	st := r.handle.Exit()
	l.reg.UnregisterHandle(r.entryID, r.handle)

	now := l.clock.Now()
	exitedAt := st.ExitedAt
	if exitedAt.IsZero() {
		exitedAt = now
	}
	ran := now.Sub(r.startedAt)
	if ran < 0 {
		ran = 0
	}

	metrics.SetRunning(l.reg.Len())
	metrics.IncExit(st.Signaled())
	metrics.ObserveRunDuration(ran.Seconds())

	pid := r.handle.PID()
	ev := history.Event{
		Type:       history.EventExit,
		OccurredAt: exitedAt,
		EntryID:    r.entryID,
		PID:        pid,
		ExitCode:   st.Code,
		Signal:     st.Signal,
		RunSeconds: ran.Seconds(),
	}
	if st.Err != nil {
		ev.Error = st.Err.Error()
	}
	l.record(context.Background(), ev)

	l.log.Info("process exited", "entry", r.entryID, "pid", pid, "code", st.Code, "signal", st.Signal, "ran", ran.Round(time.Second))

	l.publish(ExitEvent{
		EntryID:  r.entryID,
		PID:      pid,
		Code:     st.Code,
		Signal:   st.Signal,
		ExitedAt: exitedAt,
	})
}
