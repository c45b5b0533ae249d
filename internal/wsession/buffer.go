package wsession

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BufferedMessage is an outbound message held while the session is
// disconnected or while a send is being retried.
type BufferedMessage struct {
	ID       string
	Data     []byte
	Priority int
	Created  time.Time
	Attempts int
}

// messageBuffer is a bounded store of pending outbound messages. When
// full, the oldest lowest-priority message is dropped to admit the new
// one.
type messageBuffer struct {
	mu       sync.Mutex
	messages []*BufferedMessage
	capacity int
	dropped  uint64
}

func newMessageBuffer(capacity int) *messageBuffer {
	if capacity <= 0 {
		capacity = 1
	}

	return &messageBuffer{
		messages: make([]*BufferedMessage, 0, capacity),
		capacity: capacity,
	}
}

// add enqueues data with the given priority, evicting when at capacity.
// Returns the stored message and whether an eviction happened.
func (b *messageBuffer) add(data []byte, priority int) (*BufferedMessage, bool) {
	msg := &BufferedMessage{
		ID:       uuid.New().String(),
		Data:     data,
		Priority: priority,
		Created:  time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	evicted := false
	if len(b.messages) >= b.capacity {
		b.evictLocked()

		evicted = true
	}

	b.messages = append(b.messages, msg)

	return msg, evicted
}

// requeue puts a message back for another delivery attempt. Messages
// are dropped once their attempt count is exhausted; the caller checks
// that before requeueing.
func (b *messageBuffer) requeue(msg *BufferedMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.messages) >= b.capacity {
		b.evictLocked()
	}

	b.messages = append(b.messages, msg)
}

// take removes up to max messages, highest priority first and oldest
// first within a priority.
func (b *messageBuffer) take(max int) []*BufferedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.messages) == 0 {
		return nil
	}

	sort.SliceStable(b.messages, func(i, j int) bool {
		if b.messages[i].Priority != b.messages[j].Priority {
			return b.messages[i].Priority > b.messages[j].Priority
		}

		return b.messages[i].Created.Before(b.messages[j].Created)
	})

	n := max
	if n > len(b.messages) {
		n = len(b.messages)
	}

	taken := make([]*BufferedMessage, n)
	copy(taken, b.messages[:n])
	b.messages = append(b.messages[:0], b.messages[n:]...)

	return taken
}

func (b *messageBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.messages)
}

func (b *messageBuffer) droppedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dropped
}

// evictLocked drops the oldest message among those with the lowest
// priority. Caller holds the lock.
func (b *messageBuffer) evictLocked() {
	if len(b.messages) == 0 {
		return
	}

	victim := 0
	for i, msg := range b.messages {
		current := b.messages[victim]

		if msg.Priority < current.Priority ||
			(msg.Priority == current.Priority && msg.Created.Before(current.Created)) {
			victim = i
		}
	}

	b.messages = append(b.messages[:victim], b.messages[victim+1:]...)
	b.dropped++
}
