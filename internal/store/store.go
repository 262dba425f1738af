package store

import (
	"context"
	"errors"
	"time"
)

// DefaultCategory is assigned to entries created without one.
const DefaultCategory = "general"

// ErrNotFound is returned when no entry has the requested ID.
var ErrNotFound = errors.New("entry not found")

// Entry is a user-configured launch target.
//
// ID, CreatedAt, LaunchCount and LastLaunchedAt are owned by the store:
// Update never changes them and only RecordLaunch advances the counters.
type Entry struct {
	ID               string     `json:"id"`
	Name             string     `json:"name" validate:"required,max=200"`
	Description      string     `json:"description,omitempty" validate:"max=2000"`
	ExecutablePath   string     `json:"executable_path" validate:"required,max=4096"`
	Arguments        string     `json:"arguments,omitempty" validate:"max=4096"`
	WorkingDirectory *string    `json:"working_directory,omitempty" validate:"omitnil,max=4096"`
	IconPath         string     `json:"icon_path,omitempty" validate:"max=4096"`
	Category         string     `json:"category" validate:"omitempty,category"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLaunchedAt   *time.Time `json:"last_launched_at,omitempty"`
	LaunchCount      int64      `json:"launch_count"`
}

// Store persists entries.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// Create assigns ID and CreatedAt, validates and inserts e.
	Create(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, id string) (Entry, error)
	// List returns all entries ordered by category, then name.
	List(ctx context.Context) ([]Entry, error)
	// Update replaces the user-editable fields of the entry with e.ID.
	Update(ctx context.Context, e Entry) (Entry, error)
	Delete(ctx context.Context, id string) error
	// RecordLaunch increments the launch counter and sets LastLaunchedAt.
	RecordLaunch(ctx context.Context, id string, at time.Time) (Entry, error)
	Close() error
}
