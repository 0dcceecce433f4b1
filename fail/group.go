package fail

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// NewGroup creates a set of goroutines working on subtasks of a common task. The returned
// context is canceled the first time one of the functions fails or once Wait() returns,
// whichever happens first.
//
// Unlike an errgroup, Wait() does not just report the first failure. Every failure is
// collected so that shutting down several gateways tells you about all of them.
func NewGroup(ctx context.Context) (*Group, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{cancel: cancel}, ctx
}

// Group is a collection of goroutines whose failures are aggregated. Create one via NewGroup().
type Group struct {
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mutex  sync.Mutex
	errs   *multierror.Error
}

// Go runs the function in a new goroutine. A non-nil error cancels the group's context.
func (g *Group) Go(fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		if err := fn(); err != nil {
			g.mutex.Lock()
			g.errs = multierror.Append(g.errs, err)
			g.mutex.Unlock()
			g.cancel()
		}
	}()
}

// Wait blocks until every function started with Go() has returned. The result is nil
// when all of them succeeded; otherwise it is a multierror containing every failure.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()

	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.errs.ErrorOrNil()
}
