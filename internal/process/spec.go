package process

import (
	"errors"
	"os/exec"
	"strings"
)

// Spec describes one launch of an entry's executable.
// Args are passed to the executable verbatim; no shell is involved, so
// callers are expected to hand over an already-sanitized token list.
type Spec struct {
	EntryID string   `json:"entry_id"`
	Path    string   `json:"path"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"` // empty means inherit the launcher's cwd
}

var errEmptyPath = errors.New("empty executable path")

// BuildCommand constructs the *exec.Cmd for s. The executable is invoked
// directly; unlike a supervisor command line, Path is never re-parsed or
// handed to /bin/sh.
func (s Spec) BuildCommand() (*exec.Cmd, error) {
	if strings.TrimSpace(s.Path) == "" {
		return nil, errEmptyPath
	}
	// #nosec G204 -- path and args are validated by pathguard before reaching here
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd, nil
}
