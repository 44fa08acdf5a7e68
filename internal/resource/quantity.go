// Package resource provides divisible commodity quantities and the bounded
// inventory buffers agents keep them in.
//
// A Quantity is never shared. Splitting consumes the receiver and hands back
// two children whose amounts sum exactly to the parent, so mass is neither
// created nor lost between the time a source produces it and the time a sink
// receives it.
package resource

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSplit is returned when a split asks for more than the quantity
	// holds, or for a negative amount.
	ErrInvalidSplit = errors.New("invalid split")
	// ErrConsumed is returned when a quantity that was already split is used
	// again. It wraps ErrInvalidSplit.
	ErrConsumed = fmt.Errorf("%w: quantity already consumed", ErrInvalidSplit)
	// ErrNegativeAmount is returned when creating a quantity below zero.
	ErrNegativeAmount = errors.New("negative amount")
)

// Tracker records the heritage of tracked quantities. Untracked quantities
// (nil tracker) carry ID 0 and are never reported.
type Tracker interface {
	// Track assigns q an ID and records it. Parent IDs are already set.
	Track(q *Quantity) uint64
	// Created records agentID as the originator of resource resID.
	Created(resID, agentID uint64)
}

// Quantity is a non-negative amount of one commodity.
type Quantity struct {
	ID      uint64 // 0 when untracked
	Parent1 uint64 // Quantity this one was split from
	Parent2 uint64 // Reserved for combined resources
	Created int    // Step the tracker stamped on creation

	amount    decimal.Decimal
	commodity string
	units     string
	tracker   Tracker
	consumed  bool
}

// New creates an untracked quantity.
func New(amount decimal.Decimal, commodity, units string) (*Quantity, error) {
	return Create(amount, commodity, units, nil)
}

// Create creates a quantity reported to tr. A nil tracker creates an
// untracked quantity.
func Create(amount decimal.Decimal, commodity, units string, tr Tracker) (*Quantity, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s %s", ErrNegativeAmount, amount, commodity)
	}
	q := &Quantity{
		amount:    amount,
		commodity: commodity,
		units:     units,
		tracker:   tr,
	}
	q.track()
	return q, nil
}

// MustNew is New for amounts known to be valid, such as literals in tests
// and scenario defaults. It panics on a negative amount.
func MustNew(amount decimal.Decimal, commodity, units string) *Quantity {
	q, err := New(amount, commodity, units)
	if err != nil {
		panic(err)
	}
	return q
}

func (q *Quantity) track() {
	if q.tracker != nil {
		q.ID = q.tracker.Track(q)
	}
}

// Amount returns the quantity's amount.
func (q *Quantity) Amount() decimal.Decimal { return q.amount }

// Commodity returns the commodity identifier.
func (q *Quantity) Commodity() string { return q.commodity }

// Units returns the unit label (kg, MWh, ...).
func (q *Quantity) Units() string { return q.units }

// Tracked reports whether the quantity's heritage is recorded.
func (q *Quantity) Tracked() bool { return q.tracker != nil }

// Consumed reports whether the quantity has been split.
func (q *Quantity) Consumed() bool { return q.consumed }

// IsZero reports whether nothing is left.
func (q *Quantity) IsZero() bool { return q.amount.IsZero() }

// Split extracts x from q. On success q is consumed and replaced by taken
// (amount x) and rest (amount q - x); both inherit q's commodity, units and
// tracker. On failure q is left untouched.
func (q *Quantity) Split(x decimal.Decimal) (taken, rest *Quantity, err error) {
	if q.consumed {
		return nil, nil, fmt.Errorf("%w: resource %d (%s %s)", ErrConsumed, q.ID, q.amount, q.commodity)
	}
	if x.IsNegative() || x.GreaterThan(q.amount) {
		return nil, nil, fmt.Errorf("%w: take %s from %s %s", ErrInvalidSplit, x, q.amount, q.commodity)
	}

	taken = q.child(x)
	rest = q.child(q.amount.Sub(x))
	q.consumed = true
	return taken, rest, nil
}

func (q *Quantity) child(amount decimal.Decimal) *Quantity {
	c := &Quantity{
		Parent1:   q.ID,
		amount:    amount,
		commodity: q.commodity,
		units:     q.units,
		tracker:   q.tracker,
	}
	c.track()
	return c
}

func (q *Quantity) String() string {
	if q.units == "" {
		return fmt.Sprintf("%s %s", q.amount, q.commodity)
	}
	return fmt.Sprintf("%s %s %s", q.amount, q.units, q.commodity)
}

// Sum adds the amounts of qs.
func Sum(qs []*Quantity) decimal.Decimal {
	total := decimal.Zero
	for _, q := range qs {
		total = total.Add(q.amount)
	}
	return total
}
