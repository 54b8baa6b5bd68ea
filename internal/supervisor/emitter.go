package supervisor

import (
	"log"
	"sync/atomic"
	"time"
)

// Emitter handles event emission for the supervisor.
// It provides a simple, thread-safe way to emit events to subscribers.
type Emitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEmitter creates a new Emitter with the given buffer size.
func NewEmitter(bufferSize int) *Emitter {
	return &Emitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *Emitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	// Give the receiver a chance to drain before dropping.
	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[supervisor] WARNING: Event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *Emitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
// This should be called when the supervisor is stopped.
func (e *Emitter) Close() {
	close(e.events)
}
