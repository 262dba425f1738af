// Package syncutil provides the mutex types used by the launcher core.
// Build with -tags=deadlock to swap in go-deadlock and get a report
// instead of a silent hang when lock ordering goes wrong.
package syncutil
