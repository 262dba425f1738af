package process

import (
	"context"
	"errors"
	"fmt"
)

// Spawner starts detached children. The launcher depends on this interface
// so tests can substitute a fake that never touches the OS.
type Spawner interface {
	Spawn(spec Spec) (Handle, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(spec Spec) (Handle, error)

func (f SpawnerFunc) Spawn(spec Spec) (Handle, error) { return f(spec) }

// OSSpawner starts real processes with os/exec.
type OSSpawner struct{}

// Spawn starts spec's executable detached from the caller. The returned
// handle's Done channel closes once the child has been reaped; no context is
// attached to the command, so cancelling a caller's context never kills it.
func (OSSpawner) Spawn(spec Spec) (Handle, error) {
	p := New(spec)
	cmd, err := p.ConfigureCmd()
	if err != nil {
		return nil, err
	}
	if err := p.TryStart(cmd); err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}
	return p, nil
}

// Wait blocks until h exits or ctx is done.
func Wait(ctx context.Context, h Handle) (ExitStatus, error) {
	if h == nil {
		return ExitStatus{}, errors.New("nil handle")
	}
	select {
	case <-h.Done():
		return h.Exit(), nil
	case <-ctx.Done():
		return ExitStatus{}, ctx.Err()
	}
}
