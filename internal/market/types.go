// Package market matches supply and demand intents for one commodity at a
// time. Agents submit offers and requests during a step; once per step the
// scheduler resolves each commodity's engine, which pairs intents in arrival
// order and hands every match to a Dispatcher.
package market

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/tradecycle/internal/resource"
)

var (
	// ErrInvalidIntent rejects intents with no positive quantity or for the
	// wrong commodity. Rejected intents are never queued.
	ErrInvalidIntent = errors.New("invalid intent")
	// ErrUnknownCommodity is returned for commodities with no registered engine.
	ErrUnknownCommodity = errors.New("unknown commodity")
)

// Side selects the queue an intent joins.
type Side uint8

const (
	Offer   Side = iota // Supply
	Request             // Demand
)

func (s Side) String() string {
	switch s {
	case Offer:
		return "offer"
	case Request:
		return "request"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// MarshalText renders the side for JSON.
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// IntentStatus tracks an intent through resolution.
type IntentStatus uint8

const (
	StatusQueued IntentStatus = iota
	StatusPartiallyMatched
	StatusFullyMatched // Terminal
)

func (s IntentStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusPartiallyMatched:
		return "partially_matched"
	case StatusFullyMatched:
		return "fully_matched"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// MarshalText renders the status for JSON.
func (s IntentStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Party is the agent an intent originates from.
type Party interface {
	ID() uint64
	Name() string
}

// Intent is an offer or a request for a quantity of one commodity.
type Intent struct {
	ID        uuid.UUID
	Side      Side
	Party     Party
	Commodity string
	Quantity  *resource.Quantity // Unmatched remainder; nil once fully matched
	Original  decimal.Decimal    // Amount at submission
	Status    IntentStatus
	Step      int // Step the intent was emitted in

	queued bool // Held by an engine queue
}

// NewOffer creates a supply intent for q.
func NewOffer(p Party, q *resource.Quantity) *Intent {
	return newIntent(Offer, p, q)
}

// NewRequest creates a demand intent for q.
func NewRequest(p Party, q *resource.Quantity) *Intent {
	return newIntent(Request, p, q)
}

func newIntent(side Side, p Party, q *resource.Quantity) *Intent {
	in := &Intent{
		ID:    uuid.New(),
		Side:  side,
		Party: p,
	}
	if q != nil {
		in.Commodity = q.Commodity()
		in.Quantity = q
		in.Original = q.Amount()
	}
	return in
}

// Remaining returns the amount still unmatched.
func (in *Intent) Remaining() decimal.Decimal {
	if in.Quantity == nil || in.Status == StatusFullyMatched {
		return decimal.Zero
	}
	return in.Quantity.Amount()
}

// Filled returns the amount matched so far.
func (in *Intent) Filled() decimal.Decimal {
	return in.Original.Sub(in.Remaining())
}

// settle marks the intent fully matched and detaches its quantity.
func (in *Intent) settle() {
	in.Status = StatusFullyMatched
	in.Quantity = nil
	in.queued = false
}

func (in *Intent) String() string {
	party := "<nil>"
	if in.Party != nil {
		party = in.Party.Name()
	}
	return fmt.Sprintf("%s %s %s by %s (%s)", in.Side, in.Remaining(), in.Commodity, party, in.Status)
}

// Match pairs an offer with a request for a positive quantity.
type Match struct {
	Seq       uint64 // Engine-local, in dispatch order
	Commodity string
	Offer     *Intent
	Request   *Intent
	Quantity  *resource.Quantity
}

// Amount returns the matched amount.
func (m Match) Amount() decimal.Decimal { return m.Quantity.Amount() }

// Supplier returns the offering party.
func (m Match) Supplier() Party { return m.Offer.Party }

// Requester returns the requesting party.
func (m Match) Requester() Party { return m.Request.Party }

// Dispatcher delivers finalized matches to both counterparties. The engine
// calls Notify synchronously, once per match, in the order matches are made.
// Delivery failures are the dispatcher's concern.
type Dispatcher interface {
	Notify(m Match)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(m Match)

// Notify calls f(m).
func (f DispatcherFunc) Notify(m Match) { f(m) }

// Receipt is a party's answer to a delivery.
type Receipt uint8

const (
	Accepted Receipt = iota
	RejectedWrongParty
	RejectedNoStock
	RejectedOverCapacity
)

func (r Receipt) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case RejectedWrongParty:
		return "rejected_wrong_party"
	case RejectedNoStock:
		return "rejected_no_stock"
	case RejectedOverCapacity:
		return "rejected_over_capacity"
	default:
		return fmt.Sprintf("receipt(%d)", uint8(r))
	}
}

// Supplier is a party that hands over goods for its matched offers.
type Supplier interface {
	Party
	RemoveResource(m Match) ([]*resource.Quantity, Receipt)
}

// Receiver is a party that takes delivery for its matched requests.
type Receiver interface {
	Party
	AddResource(m Match, manifest []*resource.Quantity) Receipt
}

// Releaser is a party that reserves amounts for its open intents. Release is
// called when a match for one of them was not delivered.
type Releaser interface {
	Party
	Release(m Match)
}
