package buffer

import (
	"sync"

	"github.com/nicktill/tinytrack/pkg/event"
)

// DefaultCapacity is the queue bound used when none is configured.
const DefaultCapacity = 100

// Entry is a queued event tagged with its enqueue sequence number.
type Entry struct {
	Seq   uint64
	Event event.Tracked
}

// Queue is a bounded FIFO of pending events. When full, Push evicts the oldest
// entry so newer interactions win over old ones.
//
// The flusher reads the head with Peek and removes it with Remove(seq) once the
// send completes. Remove is a no-op if the head was evicted in the meantime, so a
// concurrent Push can never cause an unsent entry to be discarded as "delivered".
type Queue struct {
	mu      sync.Mutex
	ring    []Entry
	head    int
	size    int
	nextSeq uint64
	dropped uint64
}

// New creates a queue holding at most capacity entries.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		ring:    make([]Entry, capacity),
		nextSeq: 1,
	}
}

// Push appends ev at the tail and returns how many entries were evicted (0 or 1).
func (q *Queue) Push(ev event.Tracked) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := Entry{Seq: q.nextSeq, Event: ev}
	q.nextSeq++

	evicted := 0
	if q.size == len(q.ring) {
		q.ring[q.head] = Entry{}
		q.head = (q.head + 1) % len(q.ring)
		q.size--
		q.dropped++
		evicted = 1
	}

	q.ring[(q.head+q.size)%len(q.ring)] = entry
	q.size++
	return evicted
}

// Peek returns the head entry without removing it.
func (q *Queue) Peek() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return Entry{}, false
	}
	return q.ring[q.head], true
}

// Remove drops the head if it is still the entry with the given sequence number.
func (q *Queue) Remove(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 || q.ring[q.head].Seq != seq {
		return false
	}
	q.ring[q.head] = Entry{}
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	return true
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the maximum number of pending entries.
func (q *Queue) Cap() int {
	return len(q.ring)
}

// Dropped returns how many entries were evicted by overflow since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Events returns a copy of the pending events, oldest first.
func (q *Queue) Events() []event.Tracked {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]event.Tracked, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.ring[(q.head+i)%len(q.ring)].Event)
	}
	return out
}
