package wsession

import (
	"fmt"
	"testing"
)

func TestMessageBuffer_AddTake(t *testing.T) {
	b := newMessageBuffer(10)

	for i := 0; i < 3; i++ {
		msg, evicted := b.add([]byte(fmt.Sprintf("m%d", i)), 0)

		if evicted {
			t.Error("Expected no eviction below capacity")
		}

		if msg.ID == "" {
			t.Error("Expected message to receive an ID")
		}
	}

	if b.len() != 3 {
		t.Errorf("Expected 3 buffered messages, got %d", b.len())
	}

	taken := b.take(10)
	if len(taken) != 3 {
		t.Fatalf("Expected to take 3 messages, got %d", len(taken))
	}

	// FIFO within equal priority.
	for i, msg := range taken {
		if string(msg.Data) != fmt.Sprintf("m%d", i) {
			t.Errorf("Expected m%d at position %d, got %s", i, i, msg.Data)
		}
	}

	if b.len() != 0 {
		t.Errorf("Expected empty buffer after take, got %d", b.len())
	}
}

func TestMessageBuffer_TakeRespectsPriority(t *testing.T) {
	b := newMessageBuffer(10)

	b.add([]byte("low"), 0)
	b.add([]byte("high"), 5)
	b.add([]byte("mid"), 2)

	taken := b.take(10)

	want := []string{"high", "mid", "low"}
	for i, msg := range taken {
		if string(msg.Data) != want[i] {
			t.Errorf("Expected %s at position %d, got %s", want[i], i, msg.Data)
		}
	}
}

func TestMessageBuffer_TakeBatchLimit(t *testing.T) {
	b := newMessageBuffer(50)

	for i := 0; i < 25; i++ {
		b.add([]byte("m"), 0)
	}

	if got := len(b.take(10)); got != 10 {
		t.Errorf("Expected batch of 10, got %d", got)
	}

	if b.len() != 15 {
		t.Errorf("Expected 15 remaining, got %d", b.len())
	}
}

func TestMessageBuffer_EvictsOldestLowestPriority(t *testing.T) {
	b := newMessageBuffer(3)

	b.add([]byte("old-low"), 0)
	b.add([]byte("high"), 9)
	b.add([]byte("new-low"), 0)

	_, evicted := b.add([]byte("incoming"), 1)
	if !evicted {
		t.Fatal("Expected eviction at capacity")
	}

	if b.droppedCount() != 1 {
		t.Errorf("Expected 1 dropped message, got %d", b.droppedCount())
	}

	remaining := b.take(10)
	for _, msg := range remaining {
		if string(msg.Data) == "old-low" {
			t.Error("Expected the oldest low-priority message to be the victim")
		}
	}

	if len(remaining) != 3 {
		t.Errorf("Expected 3 messages after eviction, got %d", len(remaining))
	}
}

func TestMessageBuffer_Requeue(t *testing.T) {
	b := newMessageBuffer(5)

	b.add([]byte("first"), 0)

	taken := b.take(1)
	taken[0].Attempts++
	b.requeue(taken[0])

	if b.len() != 1 {
		t.Fatalf("Expected requeued message in buffer, got %d", b.len())
	}

	again := b.take(1)
	if again[0].Attempts != 1 {
		t.Errorf("Expected attempt count to persist, got %d", again[0].Attempts)
	}
}
