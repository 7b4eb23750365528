package campaign

import (
	"testing"

	"github.com/dialcast/dialcast/internal/database/models"
)

func lead(id string, priority int) models.Lead {
	return models.Lead{ID: id, PhoneNumber: "+1555000" + id, Priority: priority}
}

func TestQueueOrdersByPriorityThenFIFO(t *testing.T) {
	q := newLeadQueue()
	q.Push(lead("a", 1))
	q.Push(lead("b", 0))
	q.Push(lead("c", 1))
	q.Push(lead("d", 0))

	want := []string{"b", "d", "a", "c"}
	for i, w := range want {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop #%d: queue empty", i)
		}
		if got.ID != w {
			t.Errorf("Pop #%d = %s, want %s", i, got.ID, w)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("expected empty queue")
	}
}

func TestQueueRetryGoesToTailOfPriority(t *testing.T) {
	q := newLeadQueue()
	q.Push(lead("a", 0))
	q.Push(lead("b", 0))
	q.Push(lead("z", 5))

	first, _ := q.Pop()
	if first.ID != "a" {
		t.Fatalf("Pop = %s, want a", first.ID)
	}
	// re-enqueue lands behind b but ahead of the lower-priority z
	q.Push(first)

	want := []string{"b", "a", "z"}
	for i, w := range want {
		got, _ := q.Pop()
		if got.ID != w {
			t.Errorf("Pop #%d = %s, want %s", i, got.ID, w)
		}
	}
}
