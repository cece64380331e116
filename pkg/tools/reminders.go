package tools

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liqian5129/reading-comp/pkg/events"
)

// Reminders holds the session's reading timers. Each Set arms one
// timer; on expiry a ReminderDue event joins the ordered queue like any
// other leaf event, so the orchestrator speaks the reminder from its
// own loop. Timers landing after end_session are dropped by the normal
// after-end path.
type Reminders struct {
	queue *events.Queue

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewReminders(queue *events.Queue) *Reminders {
	return &Reminders{
		queue:  queue,
		timers: make(map[string]*time.Timer),
	}
}

// Set arms a timer and returns its id.
func (r *Reminders) Set(d time.Duration, label string) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.timers[id] = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()
		r.queue.Push(events.NewReminderDue(time.Now(), id, label))
	})
	r.mu.Unlock()
	return id
}

// Cancel disarms one timer; a fired or unknown id returns false.
func (r *Reminders) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(r.timers, id)
	return true
}

// CancelAll disarms every pending timer and returns how many there
// were.
func (r *Reminders) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.timers)
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
	return n
}

// Pending returns the number of armed timers.
func (r *Reminders) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
