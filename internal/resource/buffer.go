package resource

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrOverCapacity      = errors.New("buffer over capacity")
	ErrInsufficient      = errors.New("insufficient quantity in buffer")
	ErrCommodityMismatch = errors.New("commodity mismatch")
)

// Buffer is a capacity-bounded FIFO store of quantities of one commodity.
// It is not safe for concurrent use; owners guard it.
type Buffer struct {
	commodity string
	capacity  decimal.Decimal
	unbounded bool
	items     []*Quantity
	total     decimal.Decimal
}

// NewBuffer creates a buffer holding at most capacity of commodity.
func NewBuffer(commodity string, capacity decimal.Decimal) *Buffer {
	return &Buffer{commodity: commodity, capacity: capacity}
}

// NewUnboundedBuffer creates a buffer with no capacity limit.
func NewUnboundedBuffer(commodity string) *Buffer {
	return &Buffer{commodity: commodity, unbounded: true}
}

// Commodity returns the buffered commodity.
func (b *Buffer) Commodity() string { return b.commodity }

// Capacity returns the capacity and whether the buffer is bounded.
func (b *Buffer) Capacity() (decimal.Decimal, bool) { return b.capacity, !b.unbounded }

// Quantity returns the total amount held.
func (b *Buffer) Quantity() decimal.Decimal { return b.total }

// Count returns the number of distinct quantities held.
func (b *Buffer) Count() int { return len(b.items) }

// Space returns how much more fits. Unbounded buffers report -1.
func (b *Buffer) Space() decimal.Decimal {
	if b.unbounded {
		return decimal.NewFromInt(-1)
	}
	space := b.capacity.Sub(b.total)
	if space.IsNegative() {
		return decimal.Zero
	}
	return space
}

// Fits reports whether amount more can be pushed.
func (b *Buffer) Fits(amount decimal.Decimal) bool {
	return b.unbounded || b.total.Add(amount).LessThanOrEqual(b.capacity)
}

// Push appends q.
func (b *Buffer) Push(q *Quantity) error {
	if err := b.check(q); err != nil {
		return err
	}
	if !b.Fits(q.amount) {
		return fmt.Errorf("%w: push %s with %s of %s held", ErrOverCapacity, q.amount, b.total, b.capacity)
	}
	b.items = append(b.items, q)
	b.total = b.total.Add(q.amount)
	return nil
}

// PushAll appends every quantity in qs, or none of them.
func (b *Buffer) PushAll(qs []*Quantity) error {
	for _, q := range qs {
		if err := b.check(q); err != nil {
			return err
		}
	}
	amount := Sum(qs)
	if !b.Fits(amount) {
		return fmt.Errorf("%w: push %s with %s of %s held", ErrOverCapacity, amount, b.total, b.capacity)
	}
	b.items = append(b.items, qs...)
	b.total = b.total.Add(amount)
	return nil
}

func (b *Buffer) check(q *Quantity) error {
	if q.consumed {
		return fmt.Errorf("%w: resource %d", ErrConsumed, q.ID)
	}
	if q.commodity != b.commodity {
		return fmt.Errorf("%w: buffer holds %q, got %q", ErrCommodityMismatch, b.commodity, q.commodity)
	}
	return nil
}

// Pop removes exactly amount, oldest first. The last quantity touched is
// split when it holds more than what is still needed; its remainder stays at
// the head of the buffer.
func (b *Buffer) Pop(amount decimal.Decimal) ([]*Quantity, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: pop %s", ErrInvalidSplit, amount)
	}
	if amount.GreaterThan(b.total) {
		return nil, fmt.Errorf("%w: pop %s with %s held", ErrInsufficient, amount, b.total)
	}

	var out []*Quantity
	need := amount
	for need.IsPositive() {
		head := b.items[0]
		if head.amount.LessThanOrEqual(need) {
			out = append(out, head)
			b.items = b.items[1:]
			need = need.Sub(head.amount)
			continue
		}
		taken, rest, err := head.Split(need)
		if err != nil {
			return nil, err
		}
		b.items[0] = rest
		out = append(out, taken)
		need = decimal.Zero
	}
	b.total = b.total.Sub(amount)
	return out, nil
}

// PopAll empties the buffer.
func (b *Buffer) PopAll() []*Quantity {
	out := b.items
	b.items = nil
	b.total = decimal.Zero
	return out
}
