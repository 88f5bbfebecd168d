package engine

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// job is a unit of work enqueued either by setLookAhead (newly minted
// addresses awaiting their first processAddress) or by processAddress
// itself (a used-state flip that must re-extend the lookahead horizon).
//
// Rewriting the source's cyclic setLookAhead <-> processAddress call chain
// as a FIFO owned by a worker pool removes the stack recursion the two
// could otherwise build through each other (§9): both paths only enqueue,
// never call back into each other directly.
type job struct {
	processAddress string // non-empty: run processAddress(address)
	lookAheadFmt   string // non-empty: run setLookAhead(format, true)
}

// dispatcher runs a bounded pool of workers draining a single FIFO queue.
// It is the concrete form of §9's "single dispatcher owns a FIFO of
// (format, address) jobs" rewrite.
type dispatcher struct {
	queue   chan job
	workers int
	wg      sync.WaitGroup
	handle  func(context.Context, job)
}

func newDispatcher(workers int, handle func(context.Context, job)) *dispatcher {
	if workers < 1 {
		workers = 1
	}
	return &dispatcher{
		queue:   make(chan job, 4096),
		workers: workers,
		handle:  handle,
	}
}

// start launches the worker pool. Workers exit when ctx is cancelled, even
// with jobs still queued, or once the queue is closed and drained.
func (d *dispatcher) start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j, ok := <-d.queue:
					if !ok {
						return
					}
					d.handle(ctx, j)
				}
			}
		}()
	}
}

// enqueue submits a job without blocking the caller's current store/mutex
// section. A full queue drops the job with a log line rather than
// blocking indefinitely — the frontier will still advance on the next
// setLookAhead call triggered by reactive subscription traffic.
func (d *dispatcher) enqueue(j job) {
	select {
	case d.queue <- j:
	default:
		log.WithField("job", j).Warn("dispatcher queue full, dropping job")
	}
}

// stop closes the queue and waits for in-flight workers to return.
func (d *dispatcher) stop() {
	close(d.queue)
	d.wg.Wait()
}
