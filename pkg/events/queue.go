package events

import (
	"context"
	"sync"
	"sync/atomic"
)

// Queue is the ordered hand-off between leaf producers and the
// orchestrator loop. Push never blocks: the buffer grows without bound
// so producers are decoupled from turn latency (events are tiny, the
// producers tick at human timescales). Exactly one goroutine consumes.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
	closed bool

	pushed  int64
	dropped int64
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends an event in arrival order. Returns false after Close;
// the event is counted as dropped.
func (q *Queue) Push(e Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		atomic.AddInt64(&q.dropped, 1)
		return false
	}
	q.items = append(q.items, e)
	q.mu.Unlock()
	atomic.AddInt64(&q.pushed, 1)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Pop removes the oldest event, blocking until one is available, the
// context is cancelled, or the queue is closed and drained.
func (q *Queue) Pop(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.signal:
		}
	}
}

// TryPop removes the oldest event without blocking.
func (q *Queue) TryPop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Buffered events remain poppable.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

type QueueStats struct {
	Pushed  int64
	Dropped int64
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Pushed:  atomic.LoadInt64(&q.pushed),
		Dropped: atomic.LoadInt64(&q.dropped),
	}
}
