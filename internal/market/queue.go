package market

import (
	"container/list"

	"github.com/shopspring/decimal"
)

// IntentQueue is a FIFO of intents for one side of one commodity. Only the
// engine that owns it mutates it.
type IntentQueue struct {
	side  Side
	items *list.List // of *Intent, oldest first
}

// NewIntentQueue creates an empty queue for side.
func NewIntentQueue(side Side) *IntentQueue {
	return &IntentQueue{side: side, items: list.New()}
}

// Side returns the queue's side.
func (q *IntentQueue) Side() Side { return q.side }

// Len returns the number of queued intents.
func (q *IntentQueue) Len() int { return q.items.Len() }

// PushBack appends a newly submitted intent.
func (q *IntentQueue) PushBack(in *Intent) { q.items.PushBack(in) }

// PushFront puts a partially matched intent back ahead of later arrivals.
func (q *IntentQueue) PushFront(in *Intent) { q.items.PushFront(in) }

// PopFront removes and returns the oldest intent, or nil.
func (q *IntentQueue) PopFront() *Intent {
	front := q.items.Front()
	if front == nil {
		return nil
	}
	q.items.Remove(front)
	return front.Value.(*Intent)
}

// Total sums the remaining amounts of every queued intent.
func (q *IntentQueue) Total() decimal.Decimal {
	total := decimal.Zero
	for e := q.items.Front(); e != nil; e = e.Next() {
		total = total.Add(e.Value.(*Intent).Remaining())
	}
	return total
}

// Snapshot returns the queued intents in order.
func (q *IntentQueue) Snapshot() []*Intent {
	out := make([]*Intent, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Intent))
	}
	return out
}
