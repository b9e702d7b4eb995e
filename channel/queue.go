package channel

import (
	"sync"

	"github.com/arloliu/telwire/frame"
	"github.com/arloliu/telwire/value"
)

// EventQueue collects channel changes in arrival order until they are drained
// into event frames. It is safe for concurrent use.
type EventQueue struct {
	mu     sync.Mutex
	events []frame.Event
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// Push appends ev.
func (q *EventQueue) Push(ev frame.Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.events)
}

// Drain removes and returns all queued events.
func (q *EventQueue) Drain() []frame.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil

	return out
}

// Requeue puts events back at the head of the queue, ahead of anything pushed since Drain.
func (q *EventQueue) Requeue(events []frame.Event) {
	if len(events) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(append(make([]frame.Event, 0, len(events)+len(q.events)), events...), q.events...)
}

type queueSink struct {
	q  *EventQueue
	ch *Channel
}

func (s queueSink) Changed(c value.Change) {
	s.q.Push(s.ch.event(c))
}

func (q *EventQueue) sinkFor(c *Channel) value.ChangeSink {
	return queueSink{q: q, ch: c}
}
