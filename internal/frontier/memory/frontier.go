// Package memory provides the in-process frontier implementation.
package memory

import (
	"context"
	"sync"

	"github.com/webgraph/linkcrawler/internal/crawler"
)

// Frontier is a mutex-guarded queue of pending URL ids with a dedup
// guard: an id that is queued or in flight cannot be enqueued again.
// When both sets drain it closes itself, which is the crawl-termination
// signal for every blocked and future Claim call.
type Frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	order    []int64
	queued   map[int64]struct{}
	inflight map[int64]struct{}
	closed   bool

	// started flips on the first enqueue so an empty frontier does not
	// read as drained before seeding.
	started bool
}

// New constructs an open, empty Frontier.
func New() *Frontier {
	f := &Frontier{
		queued:   make(map[int64]struct{}),
		inflight: make(map[int64]struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// EnqueueIfAbsent queues id unless it is already queued or claimed.
func (f *Frontier) EnqueueIfAbsent(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false, crawler.ErrFrontierClosed
	}
	if _, ok := f.queued[id]; ok {
		return false, nil
	}
	if _, ok := f.inflight[id]; ok {
		return false, nil
	}
	f.queued[id] = struct{}{}
	f.order = append(f.order, id)
	f.started = true
	f.cond.Signal()
	return true, nil
}

// Claim blocks until an id is available, the frontier drains, or ctx
// ends. The returned id is moved to the in-flight set and will not be
// handed to any other caller until released.
func (f *Frontier) Claim(ctx context.Context) (int64, error) {
	// Wake blocked waiters when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if f.closed {
			return 0, crawler.ErrFrontierClosed
		}
		if len(f.order) > 0 {
			id := f.order[0]
			f.order = f.order[1:]
			delete(f.queued, id)
			f.inflight[id] = struct{}{}
			return id, nil
		}
		if f.started && len(f.inflight) == 0 {
			// Nothing queued, nothing in flight, and no producer can
			// exist outside a claimed worker: the crawl is done.
			f.closed = true
			f.cond.Broadcast()
			return 0, crawler.ErrFrontierClosed
		}
		f.cond.Wait()
	}
}

// Release finishes an attempt for id. With requeue the id re-enters the
// queue (used only when the attempt was abandoned, e.g. the store was
// unreachable); otherwise it is dropped from both sets for good.
func (f *Frontier) Release(_ context.Context, id int64, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.inflight, id)

	if requeue && !f.closed {
		if _, ok := f.queued[id]; !ok {
			f.queued[id] = struct{}{}
			f.order = append(f.order, id)
		}
		f.cond.Signal()
		return nil
	}

	if f.started && len(f.order) == 0 && len(f.inflight) == 0 && !f.closed {
		f.closed = true
	}
	// Waiters re-evaluate: either the frontier just drained or a
	// requeued id became available.
	f.cond.Broadcast()
	return nil
}

// Close force-closes the frontier, unblocking all claimers. Used on
// external stop signals.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.cond.Broadcast()
}

// Depth reports queued and in-flight sizes, for metrics.
func (f *Frontier) Depth() (queued, inflight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order), len(f.inflight)
}
