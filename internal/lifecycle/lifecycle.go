// Package lifecycle holds process-wide serving state read by the health check.
package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	startedAt    atomic.Int64
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received.
// The health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// MarkStarted records when the process began serving.
func MarkStarted(t time.Time) {
	startedAt.Store(t.UnixNano())
}

// Uptime returns the time since MarkStarted, or zero if it was never called.
func Uptime(now time.Time) time.Duration {
	started := startedAt.Load()
	if started == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, started))
}
