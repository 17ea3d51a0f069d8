// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package generate

import "sync"

// eventQueue is an unbounded FIFO between the producer and the consumer.
// push never blocks; a forwarding goroutine feeds out in order and closes it
// after the last event.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	signal chan struct{}
	out    chan Event
}

func newEventQueue(buffer int) *eventQueue {
	q := &eventQueue{
		signal: make(chan struct{}, 1),
		out:    make(chan Event, buffer),
	}
	go q.forward()
	return q
}

// push appends an event. last marks the final event of the stream.
func (q *eventQueue) push(e Event, last bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.closed = last
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) forward() {
	defer close(q.out)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, e := range items {
			q.out <- e
		}
		if closed {
			return
		}
		<-q.signal
	}
}
