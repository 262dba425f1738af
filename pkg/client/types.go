package client

import "time"

// EntryInput is the writable part of an entry, used for create and update.
type EntryInput struct {
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	ExecutablePath   string  `json:"executable_path"`
	Arguments        string  `json:"arguments,omitempty"`
	WorkingDirectory *string `json:"working_directory,omitempty"`
	IconPath         string  `json:"icon_path,omitempty"`
	Category         string  `json:"category,omitempty"`
}

// Entry is an entry as returned by the API, with its live state.
type Entry struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	ExecutablePath   string     `json:"executable_path"`
	Arguments        string     `json:"arguments,omitempty"`
	WorkingDirectory *string    `json:"working_directory,omitempty"`
	IconPath         string     `json:"icon_path,omitempty"`
	Category         string     `json:"category"`
	CreatedAt        time.Time  `json:"created_at"`
	LastLaunchedAt   *time.Time `json:"last_launched_at,omitempty"`
	LaunchCount      int64      `json:"launch_count"`
	Running          bool       `json:"running"`
	PID              int        `json:"pid,omitempty"`
}

// LaunchResult is the body of a launch response. Every outcome, including a
// rejected launch, is reported here rather than as a Go error.
type LaunchResult struct {
	Success        bool   `json:"success"`
	Outcome        string `json:"outcome"`
	EntryID        string `json:"entry_id"`
	PID            int    `json:"pid,omitempty"`
	AlreadyRunning bool   `json:"already_running"`
	Reason         string `json:"reason,omitempty"`
	Error          string `json:"error,omitempty"`
	Message        string `json:"message"`
}

// ResourceSample is one CPU/memory reading of a running entry.
type ResourceSample struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunningEntry describes a live child.
type RunningEntry struct {
	EntryID   string           `json:"entry_id"`
	PID       int              `json:"pid"`
	StartedAt time.Time        `json:"started_at"`
	Resources *ResourceSample  `json:"resources,omitempty"`
	History   []ResourceSample `json:"history,omitempty"`
}

// HistoryEvent is a recorded launch or exit.
type HistoryEvent struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	EntryID    string    `json:"entry_id"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Signal     string    `json:"signal,omitempty"`
	Error      string    `json:"error,omitempty"`
	RunSeconds float64   `json:"run_seconds,omitempty"`
}

// ExitEvent is pushed on the events websocket when a child terminates.
type ExitEvent struct {
	EntryID  string    `json:"entry_id"`
	PID      int       `json:"pid"`
	Code     int       `json:"code"`
	Signal   string    `json:"signal,omitempty"`
	ExitedAt time.Time `json:"exited_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
