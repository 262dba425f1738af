//go:build !deadlock

package syncutil

import "sync"

// DeadlockEnabled reports whether lock-order checking is compiled in.
const DeadlockEnabled = false

type Mutex struct {
	sync.Mutex
}

type RWMutex struct {
	sync.RWMutex
}
