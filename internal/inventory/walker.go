// Package inventory rebuilds which agent held which resource, and when, from
// a simulation's recorded heritage and transactions. The result is written to
// the Inventories table of the output database.
package inventory

import (
	"math"
	"sort"

	"github.com/talgya/tradecycle/internal/persistence"
)

// Forever ends segments of resources that were never split or moved again.
const Forever = math.MaxInt32

// Segment is a span during which one agent held one resource. End is
// exclusive.
type Segment struct {
	ResID   uint64 `db:"ResID"`
	AgentID uint64 `db:"AgentID"`
	Start   int    `db:"StartTime"`
	End     int    `db:"EndTime"`
}

type node struct {
	id      uint64
	created int
	owner   uint64
}

type handoff struct {
	receiver uint64
	time     int
}

// Walker holds one simulation's heritage graph.
type Walker struct {
	created  map[uint64]int
	children map[uint64][]uint64
	handoffs map[uint64][]handoff
	roots    []node
}

// NewWalker indexes resources, creators and transactions for walking.
func NewWalker(
	resources []persistence.ResourceRow,
	creators []persistence.CreatorRow,
	txs []persistence.TransactionRow,
	moved []persistence.TransactedRow,
) *Walker {
	w := &Walker{
		created:  make(map[uint64]int, len(resources)),
		children: make(map[uint64][]uint64),
		handoffs: make(map[uint64][]handoff),
	}
	for _, r := range resources {
		w.created[r.ID] = r.TimeCreated
		if r.Parent1 != 0 {
			w.children[r.Parent1] = append(w.children[r.Parent1], r.ID)
		}
		if r.Parent2 != 0 && r.Parent2 != r.Parent1 {
			w.children[r.Parent2] = append(w.children[r.Parent2], r.ID)
		}
	}
	for id := range w.children {
		kids := w.children[id]
		sort.Slice(kids, func(i, j int) bool { return kids[i] < kids[j] })
	}

	byID := make(map[uint64]persistence.TransactionRow, len(txs))
	for _, tx := range txs {
		byID[tx.ID] = tx
	}
	for _, m := range moved {
		tx, ok := byID[m.TransactionID]
		if !ok {
			continue
		}
		w.handoffs[m.ResourceID] = append(w.handoffs[m.ResourceID], handoff{receiver: tx.ReceiverID, time: tx.Time})
	}
	for id := range w.handoffs {
		h := w.handoffs[id]
		sort.SliceStable(h, func(i, j int) bool { return h[i].time < h[j].time })
	}

	for _, c := range creators {
		t, ok := w.created[c.ResID]
		if !ok {
			continue
		}
		w.roots = append(w.roots, node{id: c.ResID, created: t, owner: c.AgentID})
	}
	sort.Slice(w.roots, func(i, j int) bool { return w.roots[i].id < w.roots[j].id })
	return w
}

// Roots returns the number of created resources the walk starts from.
func (w *Walker) Roots() int { return len(w.roots) }

// Walk returns every ownership segment, visiting each resource once. A
// resource held until it was split ends when its children start; its
// children start with its last owner. Empty segments are left out.
func (w *Walker) Walk() []Segment {
	var out []Segment
	seen := make(map[uint64]struct{}, len(w.created))

	stack := make([]node, 0, len(w.roots))
	for i := len(w.roots) - 1; i >= 0; i-- {
		stack = append(stack, w.roots[i])
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[n.id]; ok {
			continue
		}
		seen[n.id] = struct{}{}

		kids := w.children[n.id]
		end := Forever
		if len(kids) > 0 {
			end = w.created[kids[0]]
		}

		// Ownership changes that happened before the resource was split.
		owner := n.owner
		start := n.created
		for _, h := range w.handoffs[n.id] {
			if h.receiver == owner {
				continue
			}
			if h.time > start {
				out = append(out, Segment{ResID: n.id, AgentID: owner, Start: start, End: h.time})
			}
			owner, start = h.receiver, h.time
		}
		if end > start {
			out = append(out, Segment{ResID: n.id, AgentID: owner, Start: start, End: end})
		}

		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, node{id: kids[i], created: w.created[kids[i]], owner: owner})
		}
	}
	return out
}

// HeldAt filters segments to those agentID held at step.
func HeldAt(segments []Segment, agentID uint64, step int) []Segment {
	var out []Segment
	for _, s := range segments {
		if s.AgentID == agentID && s.Start <= step && step < s.End {
			out = append(out, s)
		}
	}
	return out
}
