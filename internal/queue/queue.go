// Package queue bounds the number of agent containers running at once.
// Every spawn on the host routes through one Queue instance.
package queue

import (
	"container/list"
	"sync"

	"burrow/internal/async"
	"burrow/internal/logging"
)

type pendingTask struct {
	id string
	fn func()
}

// Queue admits up to limit tasks at a time and holds the rest in FIFO
// order. The host is multi-goroutine, so all state is mutex-guarded.
type Queue struct {
	mu      sync.Mutex
	limit   int
	active  int
	pending *list.List
	ids     map[string]bool
	closed  bool
	logger  logging.Logger

	// onDepth, when set, observes pending-queue depth changes (metrics).
	onDepth func(depth int)
}

// New creates a queue admitting at most limit concurrent tasks.
func New(limit int, logger logging.Logger) *Queue {
	if limit < 1 {
		limit = 1
	}
	return &Queue{
		limit:   limit,
		pending: list.New(),
		ids:     make(map[string]bool),
		logger:  logging.OrNop(logger),
	}
}

// SetDepthObserver registers a callback invoked with the pending depth
// whenever it changes. Must be called before the queue is in use.
func (q *Queue) SetDepthObserver(fn func(depth int)) {
	q.onDepth = fn
}

// Enqueue runs fn now if capacity allows, otherwise appends it. A second
// submission with an id that is already waiting is a no-op, which guards
// against double-dispatch of the same agent. Returns false when the task
// was dropped (duplicate or shutdown).
func (q *Queue) Enqueue(id string, fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("queue closed, dropping task %s", id)
		return false
	}
	if q.ids[id] {
		q.mu.Unlock()
		q.logger.Debug("task %s already pending, ignoring duplicate", id)
		return false
	}
	if q.active < q.limit {
		q.active++
		q.mu.Unlock()
		q.run(id, fn)
		return true
	}
	q.ids[id] = true
	q.pending.PushBack(pendingTask{id: id, fn: fn})
	q.notifyDepth()
	q.mu.Unlock()
	return true
}

func (q *Queue) run(id string, fn func()) {
	async.Go(q.logger, "queue.task."+id, func() {
		defer q.done()
		fn()
	})
}

// done releases a slot and drains as many pending tasks as capacity allows.
func (q *Queue) done() {
	q.mu.Lock()
	q.active--
	for q.active < q.limit && q.pending.Len() > 0 {
		front := q.pending.Remove(q.pending.Front()).(pendingTask)
		delete(q.ids, front.id)
		q.active++
		q.run(front.id, front.fn)
	}
	q.notifyDepth()
	q.mu.Unlock()
}

// Shutdown stops further admission. Tasks already running or pending still
// complete.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Active returns the number of currently running tasks.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// PendingLen returns the number of queued tasks.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// notifyDepth is called with q.mu held.
func (q *Queue) notifyDepth() {
	if q.onDepth != nil {
		q.onDepth(q.pending.Len())
	}
}
