package lifecycle

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Event is a lifecycle phase that lasts until all work passed to WaitUntil has finished.
// The first failure cancels the context of the remaining work and fails the phase.
type Event struct {
	group *errgroup.Group
	ctx   context.Context
}

func newEvent(ctx context.Context) *Event {
	group, ctx := errgroup.WithContext(ctx)
	return &Event{group: group, ctx: ctx}
}

// WaitUntil extends the phase until fn returns.
func (e *Event) WaitUntil(fn func(ctx context.Context) error) {
	e.group.Go(func() error {
		return fn(e.ctx)
	})
}

// Wait blocks until all work is done and returns the first error.
func (e *Event) Wait() error {
	return e.group.Wait()
}
