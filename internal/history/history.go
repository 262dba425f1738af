package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunch EventType = "launch"
	EventExit   EventType = "exit"
)

// Event is one launch or exit of an entry, exported to analytics systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	EntryID    string    `json:"entry_id"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Signal     string    `json:"signal,omitempty"`
	Error      string    `json:"error,omitempty"`
	// RunSeconds is the wall time between spawn and exit; zero for launch events.
	RunSeconds float64 `json:"run_seconds,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can answer queries about past events.
type Reader interface {
	// Recent returns up to limit events for entryID, newest first.
	Recent(ctx context.Context, entryID string, limit int) ([]Event, error)
}

// Fanout sends e to every sink. Failures are logged and never returned:
// history is best-effort and must not affect launching.
func Fanout(ctx context.Context, log *slog.Logger, sinks []Sink, e Event) {
	if log == nil {
		log = slog.Default()
	}
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil {
			log.Warn("history sink failed", "type", e.Type, "entry", e.EntryID, "error", err)
		}
	}
}
