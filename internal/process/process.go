package process

import (
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

var errNotStarted = errors.New("process not started")

// Handle is the launcher's view of a spawned child.
type Handle interface {
	PID() int
	// Done is closed once the child has exited and been reaped.
	Done() <-chan struct{}
	// Exit returns the exit status. It is only meaningful after Done is closed.
	Exit() ExitStatus
	// Kill forcibly stops the child.
	Kill() error
}

// ExitStatus records how a child terminated. A normal exit and a
// termination by signal are both terminal; Signal is set only for the latter.
type ExitStatus struct {
	Code     int       `json:"code"`
	Signal   string    `json:"signal,omitempty"`
	Err      error     `json:"-"`
	ExitedAt time.Time `json:"exited_at"`
}

// Signaled reports whether the child was terminated by a signal.
func (e ExitStatus) Signaled() bool { return e.Signal != "" }

// Process is the Handle for a child started by OSSpawner.
type Process struct {
	spec      Spec
	cmd       *exec.Cmd
	mu        sync.Mutex
	pid       int
	startedAt time.Time
	exit      ExitStatus
	done      chan struct{}
}

func New(spec Spec) *Process { return &Process{spec: spec, done: make(chan struct{})} }

// ConfigureCmd builds the command for the spec and detaches it from the
// launcher: new session or process group, no inherited stdio.
func (p *Process) ConfigureCmd() (*exec.Cmd, error) {
	cmd, err := p.spec.BuildCommand()
	if err != nil {
		return nil, err
	}
	configureSysProcAttr(cmd)
	// Nil stdio makes os/exec attach the null device and close it itself,
	// so the child holds no pipe back to us.
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd, nil
}

// TryStart starts cmd and records the PID. On success a goroutine reaps the
// child and closes Done when it exits.
func (p *Process) TryStart(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.mu.Unlock()
	go p.monitor()
	return nil
}

func (p *Process) monitor() {
	err := p.cmd.Wait()
	p.MarkExited(err)
}

// MarkExited records the exit status and closes Done. Only the first call has an effect.
func (p *Process) MarkExited(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return
	default:
	}
	p.exit = exitStatusFrom(p.cmd, err)
	close(p.done)
}

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Exit() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

func (p *Process) Spec() Spec { return p.spec }

func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errNotStarted
	}
	select {
	case <-p.done:
		return nil
	default:
	}
	return cmd.Process.Kill()
}

// exitStatusFrom converts the result of cmd.Wait. Err is kept only for
// failures other than a non-zero exit or a signal, which Code and Signal
// already describe.
func exitStatusFrom(cmd *exec.Cmd, err error) ExitStatus {
	st := ExitStatus{ExitedAt: time.Now()}
	var ee *exec.ExitError
	if err != nil && !errors.As(err, &ee) {
		st.Err = err
	}
	if cmd != nil && cmd.ProcessState != nil {
		st.Code = cmd.ProcessState.ExitCode()
		if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.Signal = ws.Signal().String()
		}
		return st
	}
	if ee != nil {
		st.Code = ee.ExitCode()
	} else if err != nil {
		st.Code = -1
	}
	return st
}
