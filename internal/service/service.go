// Package service ties the entry store to the launcher. It is the layer the
// HTTP API, the CLI and embedding programs talk to.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/loykin/launchpad/internal/history"
	"github.com/loykin/launchpad/internal/icon"
	"github.com/loykin/launchpad/internal/launcher"
	"github.com/loykin/launchpad/internal/registry"
	"github.com/loykin/launchpad/internal/store"
	"github.com/loykin/launchpad/internal/syncutil"
)

// ErrEntryRunning is returned when an operation needs the entry to be stopped.
var ErrEntryRunning = errors.New("entry is running")

// EntryView is an entry together with its live state.
type EntryView struct {
	store.Entry
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

type Service struct {
	store    store.Store
	launcher *launcher.Launcher
	icons    icon.Extractor
	history  history.Reader
	clock    clockwork.Clock
	log      *slog.Logger

	// entryMu keeps DeleteEntry from interleaving with a launch in flight:
	// launches hold it shared from lookup to registration.
	entryMu syncutil.RWMutex
}

type Option func(*Service)

func WithIcons(x icon.Extractor) Option { return func(s *Service) { s.icons = x } }

func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// WithHistoryReader enables EntryHistory.
func WithHistoryReader(r history.Reader) Option { return func(s *Service) { s.history = r } }

func New(st store.Store, l *launcher.Launcher, opts ...Option) *Service {
	s := &Service{store: st, launcher: l, icons: icon.Noop{}, clock: clockwork.NewRealClock(), log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Store() store.Store { return s.store }

func (s *Service) Launcher() *launcher.Launcher { return s.launcher }

// CreateEntry validates and stores e. When e has no icon, one is extracted
// from the executable; extraction failures are logged and ignored.
func (s *Service) CreateEntry(ctx context.Context, e store.Entry) (store.Entry, error) {
	if err := store.Validate(e); err != nil {
		return store.Entry{}, err
	}
	if e.IconPath == "" {
		e.IconPath = s.extractIcon(ctx, e.ExecutablePath)
	}
	created, err := s.store.Create(ctx, e)
	if err != nil {
		return store.Entry{}, fmt.Errorf("create entry: %w", err)
	}
	s.log.Info("entry created", "entry", created.ID, "name", created.Name)
	return created, nil
}

// UpdateEntry replaces the editable fields of the entry with e.ID. A changed
// executable without an explicit icon gets a freshly extracted one.
func (s *Service) UpdateEntry(ctx context.Context, e store.Entry) (store.Entry, error) {
	cur, err := s.store.Get(ctx, e.ID)
	if err != nil {
		return store.Entry{}, err
	}
	if e.IconPath == "" {
		if e.ExecutablePath == cur.ExecutablePath {
			e.IconPath = cur.IconPath
		} else {
			e.IconPath = s.extractIcon(ctx, e.ExecutablePath)
		}
	}
	updated, err := s.store.Update(ctx, e)
	if err != nil {
		return store.Entry{}, fmt.Errorf("update entry: %w", err)
	}
	return updated, nil
}

func (s *Service) GetEntry(ctx context.Context, id string) (EntryView, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return EntryView{}, err
	}
	return s.view(e), nil
}

func (s *Service) ListEntries(ctx context.Context) ([]EntryView, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	out := make([]EntryView, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.view(e))
	}
	return out, nil
}

// DeleteEntry removes an entry that is not currently running.
func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	s.entryMu.Lock()
	defer s.entryMu.Unlock()
	if t, ok := s.launcher.IsRunning(id); ok {
		return fmt.Errorf("%w (pid %d)", ErrEntryRunning, t.PID)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("entry deleted", "entry", id)
	return nil
}

// LaunchEntry launches the stored entry id. Every launch outcome is reported
// through the Result; the error is non-nil only when the entry could not be
// loaded. A successful launch bumps the entry's launch counter.
func (s *Service) LaunchEntry(ctx context.Context, id string) (launcher.Result, error) {
	s.entryMu.RLock()
	e, err := s.store.Get(ctx, id)
	if err != nil {
		s.entryMu.RUnlock()
		return launcher.Result{}, err
	}
	res := s.launcher.Launch(ctx, launcher.Request{
		EntryID:          e.ID,
		ExecutablePath:   e.ExecutablePath,
		Arguments:        e.Arguments,
		WorkingDirectory: e.WorkingDirectory,
	})
	s.entryMu.RUnlock()
	if res.Success() {
		// The child is already running; a failed counter update must not
		// turn the launch into a failure.
		if _, err := s.store.RecordLaunch(context.WithoutCancel(ctx), e.ID, s.clock.Now()); err != nil {
			s.log.Warn("record launch failed", "entry", e.ID, "error", err)
		}
	}
	return res, nil
}

func (s *Service) Running() []registry.Tracked { return s.launcher.ListRunning() }

func (s *Service) IsRunning(id string) (registry.Tracked, bool) { return s.launcher.IsRunning(id) }

func (s *Service) Subscribe(o launcher.Observer) func() { return s.launcher.Subscribe(o) }

// ErrNoHistory is returned by EntryHistory when no history reader is configured.
var ErrNoHistory = errors.New("history is not enabled")

// EntryHistory returns up to limit recent launch and exit events of id.
func (s *Service) EntryHistory(ctx context.Context, id string, limit int) ([]history.Event, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.history.Recent(ctx, id, limit)
}

func (s *Service) view(e store.Entry) EntryView {
	v := EntryView{Entry: e}
	if t, ok := s.launcher.IsRunning(e.ID); ok {
		v.Running = true
		v.PID = t.PID
	}
	return v
}

func (s *Service) extractIcon(ctx context.Context, exe string) string {
	p, err := s.icons.Extract(ctx, exe)
	if err != nil {
		s.log.Warn("icon extraction failed", "executable", exe, "error", err)
		return ""
	}
	return p
}
