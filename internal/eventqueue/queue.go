package eventqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue has been closed and drained.
var ErrClosed = errors.New("eventqueue: closed")

// entry is one slot in the underlying heap, carrying the event plus its
// precomputed priority and a heap index maintained by container/heap.
type entry struct {
	event    SyncEvent
	priority int
	index    int
}

// entryHeap implements container/heap.Interface, ordering by priority then
// by timestamp within a priority (spec §4.8 "within a priority, older-
// timestamp first").
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}

	return h[i].event.Timestamp.Before(h[j].event.Timestamp)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]

	return e
}

// Queue is a priority queue of SyncEvents keyed by path, with mtime-aware
// deduplication (spec §4.8). Safe for concurrent producers and a single
// consumer blocked in Pop.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	h        entryHeap
	byPath   map[string]*entry
	closed   bool
}

// New creates an empty Queue.
func New() *Queue {
	q := &Queue{
		byPath: make(map[string]*entry),
	}
	q.notEmpty = sync.NewCond(&q.mu)

	return q
}

// Push inserts e, applying the dedup rule from spec §4.8: if a pending
// event for e.Path exists, the event with the larger mtime wins; on equal
// mtime the later event timestamp wins; if either event lacks mtime, the
// new event always replaces the old.
func (q *Queue) Push(e SyncEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	if old, ok := q.byPath[e.Path]; ok {
		if !shouldReplace(old.event, e) {
			return
		}

		old.event = e
		old.priority = priorityFor(e)
		heap.Fix(&q.h, old.index)
		q.notEmpty.Signal()

		return
	}

	ent := &entry{event: e, priority: priorityFor(e)}
	q.byPath[e.Path] = ent
	heap.Push(&q.h, ent)
	q.notEmpty.Signal()
}

// shouldReplace reports whether newEvent should replace oldEvent under the
// §4.8 dedup rule.
func shouldReplace(oldEvent, newEvent SyncEvent) bool {
	if !oldEvent.Metadata.HasMtime || !newEvent.Metadata.HasMtime {
		return true
	}

	if !newEvent.Metadata.Mtime.Equal(oldEvent.Metadata.Mtime) {
		return newEvent.Metadata.Mtime.After(oldEvent.Metadata.Mtime)
	}

	return newEvent.Timestamp.After(oldEvent.Timestamp)
}

// Pop blocks until an event is available or ctx is canceled, then removes
// and returns the highest-priority event.
func (q *Queue) Pop(ctx context.Context) (SyncEvent, error) {
	// The goroutine below wakes the condvar if ctx is canceled while Pop is
	// waiting.
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.notEmpty.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.h) == 0 && ctx.Err() == nil && !q.closed {
		q.notEmpty.Wait()
	}

	if ctx.Err() != nil {
		return SyncEvent{}, ctx.Err()
	}

	if len(q.h) == 0 {
		return SyncEvent{}, ErrClosed
	}

	ent := heap.Pop(&q.h).(*entry)
	delete(q.byPath, ent.event.Path)

	return ent.event, nil
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.h)
}

// Close wakes any blocked Pop call; subsequent Push calls are no-ops.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.notEmpty.Broadcast()
}
