package process

import (
	psproc "github.com/shirou/gopsutil/v4/process"
)

// Alive reports whether a process with the given PID currently exists.
// It is a point-in-time probe used for diagnostics; the launcher's notion of
// "running" comes from reaping, not from polling.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := psproc.PidExists(int32(pid)) // #nosec G115 -- pids fit in int32
	return err == nil && ok
}
