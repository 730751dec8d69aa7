// Package async is the panic boundary for host background work. Watchers,
// queue workers, stdio pumps, and timers all start through Go so a panic in
// one of them is contained and reported instead of crashing the daemon.
package async

import (
	"runtime/debug"

	"burrow/internal/logging"
)

// Go starts fn on its own goroutine, reporting any panic through logger
// under the given name.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover is the deferred half of Go, exported so synchronous call sites can
// share the same reporting. Must be called directly in a defer.
func Recover(logger logging.Logger, name string) {
	r := recover()
	if r == nil {
		return
	}
	if name == "" {
		name = "unnamed"
	}
	logging.OrNop(logger).Error("panic in %s: %v\n%s", name, r, debug.Stack())
}
