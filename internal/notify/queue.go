package notify

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of events with many producers and one logical consumer.
// Publish never blocks; Next suspends the consumer until an event arrives.
type Queue struct {
	mu     sync.Mutex
	events []Event
	ready  chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Publish appends an event and wakes the consumer
func (q *Queue) Publish(event Event) {
	q.mu.Lock()
	q.events = append(q.events, event)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Next returns the oldest event, waiting while the queue is empty.
// It returns ctx.Err() once ctx is done.
func (q *Queue) Next(ctx context.Context) (Event, error) {
	for {
		if event, ok := q.pop(); ok {
			return event, nil
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of events waiting
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *Queue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	event := q.events[0]
	q.events[0] = Event{}
	q.events = q.events[1:]
	return event, true
}
