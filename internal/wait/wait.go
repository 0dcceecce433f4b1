package wait

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Interrupt starts listening for the next SIGINT or SIGTERM sent to this process. Call the
// returned stop function once you no longer care so that the signals go back to their
// default behavior.
func Interrupt() (<-chan os.Signal, func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	return signals, func() { signal.Stop(signals) }
}

// Group blocks until every member of the wait group is done, the context ends, or the
// process receives another SIGINT/SIGTERM. It returns nil only when the group finished.
// The interrupt case keeps a second Ctrl+C from getting stuck behind slow requests.
func Group(ctx context.Context, wg *sync.WaitGroup) error {
	interrupt, stop := Interrupt()
	defer stop()

	select {
	case <-groupDone(wg):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-interrupt:
		return context.Canceled
	}
}

// WithTimeout waits for the wait group to finish and reports true if the timeout expired first.
// This is really meant for tests; a group that never finishes leaks a goroutine.
func WithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	select {
	case <-groupDone(wg):
		return false
	case <-time.After(timeout):
		return true
	}
}

func groupDone(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	return done
}
