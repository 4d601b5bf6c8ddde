package api

import (
	"context"
	"sync"
)

// refresher serializes token refreshes. The first caller to arrive while
// idle performs the refresh; callers arriving while it is in flight are
// queued in arrival order and all receive the same outcome once it settles.
// The queue is non-empty only while refreshing is true, and it is drained
// exactly once per cycle.
type refresher struct {
	mu         sync.Mutex
	refreshing bool
	queue      []chan error
}

// run joins the in-flight refresh cycle or starts a new one. settled is
// evaluated under the lock when no cycle is running: if it reports true the
// caller's credentials were already dealt with by an earlier cycle, so no
// new refresh is started and run returns settled's error. initiated reports
// whether this caller performed the refresh itself.
func (r *refresher) run(
	ctx context.Context, settled func() (bool, error), refresh func() error,
) (initiated bool, err error) {
	r.mu.Lock()

	if r.refreshing {
		// Buffered so settle never blocks on a waiter that gave up.
		ch := make(chan error, 1)
		r.queue = append(r.queue, ch)
		r.mu.Unlock()

		select {
		case err := <-ch:
			return false, err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if done, err := settled(); done {
		r.mu.Unlock()
		return false, err
	}

	r.refreshing = true
	r.mu.Unlock()

	err = refresh()
	r.settle(err)

	return true, err
}

// settle releases every queued caller with err (nil on success) in arrival
// order and returns the coordinator to idle.
func (r *refresher) settle(err error) {
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.refreshing = false
	r.mu.Unlock()

	for _, ch := range queue {
		ch <- err
	}
}

// pending returns the number of queued callers and whether a refresh is in
// flight. Test hook.
func (r *refresher) pending() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queue), r.refreshing
}
