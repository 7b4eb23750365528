package campaign

import (
	"container/heap"

	"github.com/dialcast/dialcast/internal/database/models"
)

// leadQueue orders pending leads by priority (lower dials earlier), FIFO
// within a priority. Retries push with a fresh sequence number, which lands
// them at the tail of their priority class.
type leadQueue struct {
	items leadHeap
	seq   uint64
}

type leadItem struct {
	lead models.Lead
	seq  uint64
}

func newLeadQueue() *leadQueue {
	return &leadQueue{}
}

// Push enqueues a lead behind everything already queued at its priority.
func (q *leadQueue) Push(lead models.Lead) {
	q.seq++
	heap.Push(&q.items, leadItem{lead: lead, seq: q.seq})
}

// Pop removes and returns the next lead to dial. ok is false when empty.
func (q *leadQueue) Pop() (models.Lead, bool) {
	if len(q.items) == 0 {
		return models.Lead{}, false
	}
	item := heap.Pop(&q.items).(leadItem)
	return item.lead, true
}

func (q *leadQueue) Len() int {
	return len(q.items)
}

type leadHeap []leadItem

func (h leadHeap) Len() int { return len(h) }

func (h leadHeap) Less(i, j int) bool {
	if h[i].lead.Priority != h[j].lead.Priority {
		return h[i].lead.Priority < h[j].lead.Priority
	}
	return h[i].seq < h[j].seq
}

func (h leadHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *leadHeap) Push(x any) {
	*h = append(*h, x.(leadItem))
}

func (h *leadHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
