// Package monitoring holds the diagnostic logger shared by the internal
// packages.
package monitoring

import (
	"log"
	"sync"
)

var (
	mu   sync.RWMutex
	logf = log.Printf
)

// Logf writes one diagnostic line through the current logger.
func Logf(format string, v ...any) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// SetLogger replaces the logger and returns the previous one. nil mutes
// logging.
func SetLogger(f func(format string, v ...any)) (prev func(format string, v ...any)) {
	if f == nil {
		f = func(string, ...any) {}
	}
	mu.Lock()
	prev, logf = logf, f
	mu.Unlock()
	return prev
}
