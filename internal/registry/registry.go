// Package registry tracks which entries currently have a live child process.
//
// A Registry holds at most one Tracked record per entry ID. Records are added
// only after a spawn succeeded and removed when the child's exit is observed.
package registry

import (
	"errors"
	"sort"
	"time"

	"github.com/loykin/launchpad/internal/process"
	"github.com/loykin/launchpad/internal/syncutil"
)

// ErrAlreadyRegistered is returned by Register when the entry is already tracked.
var ErrAlreadyRegistered = errors.New("entry already has a running process")

// Tracked is the live-process record for one entry.
type Tracked struct {
	EntryID   string         `json:"entry_id"`
	PID       int            `json:"pid"`
	StartedAt time.Time      `json:"started_at"`
	Handle    process.Handle `json:"-"`
}

type Registry struct {
	mu    syncutil.RWMutex
	byID  map[string]Tracked
	byPID map[int]string
}

func New() *Registry {
	return &Registry{
		byID:  make(map[string]Tracked),
		byPID: make(map[int]string),
	}
}

// IsRunning reports whether entryID is tracked and returns its record.
func (r *Registry) IsRunning(entryID string) (Tracked, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[entryID]
	return t, ok
}

// Register records h as the running child of entryID.
func (r *Registry) Register(entryID string, h process.Handle, startedAt time.Time) error {
	if h == nil {
		return errors.New("nil handle")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[entryID]; exists {
		return ErrAlreadyRegistered
	}
	t := Tracked{EntryID: entryID, PID: h.PID(), StartedAt: startedAt, Handle: h}
	r.byID[entryID] = t
	if t.PID > 0 {
		r.byPID[t.PID] = entryID
	}
	return nil
}

// Unregister removes entryID and returns the removed record. Removing an
// untracked entry is a no-op.
func (r *Registry) Unregister(entryID string) (Tracked, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(entryID)
}

// UnregisterHandle removes entryID only if it is still tracked with h.
func (r *Registry) UnregisterHandle(entryID string, h process.Handle) (Tracked, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[entryID]
	if !ok || t.Handle != h {
		return Tracked{}, false
	}
	return r.removeLocked(entryID)
}

func (r *Registry) removeLocked(entryID string) (Tracked, bool) {
	t, ok := r.byID[entryID]
	if !ok {
		return Tracked{}, false
	}
	delete(r.byID, entryID)
	if id, found := r.byPID[t.PID]; found && id == entryID {
		delete(r.byPID, t.PID)
	}
	return t, true
}

// LookupPID finds the entry whose child has the given PID.
func (r *Registry) LookupPID(pid int) (Tracked, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPID[pid]
	if !ok {
		return Tracked{}, false
	}
	t, ok := r.byID[id]
	return t, ok
}

// List returns a snapshot ordered by start time, then entry ID.
func (r *Registry) List() []Tracked {
	r.mu.RLock()
	out := make([]Tracked, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].EntryID < out[j].EntryID
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
