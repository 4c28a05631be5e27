package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var shutdownSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}

// CreateContextWithShutdown returns a context that will report done when SIGINT or SIGTERM is received.
// stop releases the signal handler and must be called once the run is over.
func CreateContextWithShutdown(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, shutdownSignals...)
}
