package playback

import "sync/atomic"

// EventKind identifies a backend notification.
type EventKind uint8

const (
	EventCycleComplete EventKind = iota + 1
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventCycleComplete:
		return "cycle_complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultQueueSize bounds pending notifications between the backend and the loop.
const DefaultQueueSize = 64

// Queue is a Notifier that hands events to a consumer goroutine.
// Publishing never blocks; events are dropped when the buffer is full.
type Queue struct {
	ch      chan EventKind
	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan EventKind, size)}
}

func (q *Queue) OnCycleComplete() { q.publish(EventCycleComplete) }
func (q *Queue) OnError()         { q.publish(EventError) }

func (q *Queue) publish(k EventKind) {
	select {
	case q.ch <- k:
	default:
		q.dropped.Add(1)
	}
}

// Events is the consumer side of the queue.
func (q *Queue) Events() <-chan EventKind {
	return q.ch
}

// Dropped reports how many events were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
