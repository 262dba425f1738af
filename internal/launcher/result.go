package launcher

import (
	"fmt"

	"github.com/loykin/launchpad/internal/pathguard"
	"github.com/loykin/launchpad/internal/process"
)

// Outcome discriminates the result of a launch attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeAlreadyRunning   Outcome = "already_running"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomeSpawnFailed      Outcome = "spawn_failed"
)

// Request carries the fields of an entry needed to start it.
type Request struct {
	EntryID        string
	ExecutablePath string
	// Arguments is the raw, unsanitized argument string.
	Arguments string
	// WorkingDirectory is optional: nil means "inherit", a non-nil empty
	// string is rejected.
	WorkingDirectory *string
}

// Result is returned by every Launch call; Launch never returns an error.
type Result struct {
	Outcome Outcome          `json:"outcome"`
	EntryID string           `json:"entry_id"`
	PID     int              `json:"pid,omitempty"`
	Handle  process.Handle   `json:"-"`
	Reason  pathguard.Reason `json:"reason,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (r Result) Success() bool        { return r.Outcome == OutcomeSuccess }
func (r Result) AlreadyRunning() bool { return r.Outcome == OutcomeAlreadyRunning }

// Message is a user-facing sentence for the outcome.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return fmt.Sprintf("started (pid %d)", r.PID)
	case OutcomeAlreadyRunning:
		return fmt.Sprintf("already running (pid %d); close it before launching again", r.PID)
	case OutcomeValidationFailed:
		return "cannot launch: " + r.Error
	case OutcomeSpawnFailed:
		return "failed to start process: " + r.Error
	}
	return string(r.Outcome)
}
