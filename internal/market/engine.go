package market

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/tradecycle/internal/resource"
)

// Engine matches offers against requests for a single commodity.
//
// Submit and Resolve are serialized by one mutex around both queues. Engines
// for different commodities share nothing and may be resolved in parallel.
type Engine struct {
	mu         sync.Mutex
	commodity  string
	offers     *IntentQueue
	requests   *IntentQueue
	dispatcher Dispatcher

	seq     uint64          // Matches emitted over the engine's lifetime
	matched decimal.Decimal // Volume emitted over the engine's lifetime
}

// NewEngine creates an engine for commodity that notifies d of every match.
// A nil dispatcher drops notifications; matches are still returned by Resolve.
func NewEngine(commodity string, d Dispatcher) *Engine {
	return &Engine{
		commodity:  commodity,
		offers:     NewIntentQueue(Offer),
		requests:   NewIntentQueue(Request),
		dispatcher: d,
	}
}

// Commodity returns the commodity the engine resolves.
func (e *Engine) Commodity() string { return e.commodity }

// SetDispatcher replaces the dispatcher used by later Resolve calls.
func (e *Engine) SetDispatcher(d Dispatcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatcher = d
}

// Submit appends in to the tail of its side's queue. It does not resolve.
func (e *Engine) Submit(in *Intent) error {
	if in == nil || in.Quantity == nil {
		return fmt.Errorf("%w: no quantity", ErrInvalidIntent)
	}
	if in.Quantity.Consumed() {
		return fmt.Errorf("%w: quantity %d already split", ErrInvalidIntent, in.Quantity.ID)
	}
	if !in.Quantity.Amount().IsPositive() {
		return fmt.Errorf("%w: non-positive amount %s", ErrInvalidIntent, in.Quantity.Amount())
	}
	if in.Quantity.Commodity() != e.commodity || (in.Commodity != "" && in.Commodity != e.commodity) {
		return fmt.Errorf("%w: %q submitted to %q market", ErrInvalidIntent, in.Quantity.Commodity(), e.commodity)
	}
	if in.Status == StatusFullyMatched {
		return fmt.Errorf("%w: intent %s already fully matched", ErrInvalidIntent, in.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if in.queued {
		return fmt.Errorf("%w: intent %s already queued", ErrInvalidIntent, in.ID)
	}
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	in.Commodity = e.commodity
	if in.Original.IsZero() {
		in.Original = in.Quantity.Amount()
	}
	in.Status = StatusQueued
	in.queued = true
	e.queue(in.Side).PushBack(in)
	return nil
}

func (e *Engine) queue(s Side) *IntentQueue {
	if s == Offer {
		return e.offers
	}
	return e.requests
}

// Resolve drains one pass of matchable pairs. The heads of both queues are
// compared; the smaller side is consumed in full and the larger one is split,
// keeping its remainder in play against the next intent on the other side.
// Whatever is left when a side runs dry goes back to the head of its queue.
//
// Matches are dispatched in the order they are made and also returned. A
// split failure aborts the pass: the pair being compared is put back
// unchanged and the error is returned with the matches already dispatched.
func (e *Engine) Resolve() ([]Match, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.commodity == "" {
		return nil, fmt.Errorf("%w: engine has no commodity", ErrUnknownCommodity)
	}
	if e.offers.Len() == 0 || e.requests.Len() == 0 {
		return nil, nil
	}

	var matches []Match
	off := e.offers.PopFront()
	req := e.requests.PopFront()

	for off != nil && req != nil {
		offAmt, reqAmt := off.Remaining(), req.Remaining()
		if !offAmt.IsPositive() {
			off.settle()
			off = e.offers.PopFront()
			continue
		}
		if !reqAmt.IsPositive() {
			req.settle()
			req = e.requests.PopFront()
			continue
		}

		switch offAmt.Cmp(reqAmt) {
		case 1:
			taken, rest, err := off.Quantity.Split(reqAmt)
			if err != nil {
				return matches, e.abort(off, req, err)
			}
			off.Quantity = rest
			off.Status = StatusPartiallyMatched
			req.settle()
			matches = append(matches, e.emit(off, req, taken))
			req = e.requests.PopFront()

		case -1:
			taken, rest, err := req.Quantity.Split(offAmt)
			if err != nil {
				return matches, e.abort(off, req, err)
			}
			req.Quantity = rest
			req.Status = StatusPartiallyMatched
			off.settle()
			matches = append(matches, e.emit(off, req, taken))
			off = e.offers.PopFront()

		default:
			q := off.Quantity
			off.settle()
			req.settle()
			matches = append(matches, e.emit(off, req, q))
			off = e.offers.PopFront()
			req = e.requests.PopFront()
		}
	}

	if off != nil {
		e.requeue(off)
	}
	if req != nil {
		e.requeue(req)
	}
	return matches, nil
}

func (e *Engine) emit(off, req *Intent, q *resource.Quantity) Match {
	e.seq++
	e.matched = e.matched.Add(q.Amount())
	m := Match{
		Seq:       e.seq,
		Commodity: e.commodity,
		Offer:     off,
		Request:   req,
		Quantity:  q,
	}
	if e.dispatcher != nil {
		e.dispatcher.Notify(m)
	}
	return m
}

func (e *Engine) requeue(in *Intent) {
	in.Status = StatusQueued
	e.queue(in.Side).PushFront(in)
}

// abort restores the pair under comparison to the queue heads.
func (e *Engine) abort(off, req *Intent, err error) error {
	e.offers.PushFront(off)
	e.requests.PushFront(req)
	return fmt.Errorf("resolve %s: offer %s vs request %s: %w", e.commodity, off.ID, req.ID, err)
}

// IntentView is a read-only copy of a queued intent.
type IntentView struct {
	ID        string          `json:"id"`
	Side      Side            `json:"side"`
	PartyID   uint64          `json:"party_id"`
	Party     string          `json:"party"`
	Remaining decimal.Decimal `json:"remaining"`
	Original  decimal.Decimal `json:"original"`
	Status    IntentStatus    `json:"status"`
	Step      int             `json:"step"`
}

func viewOf(in *Intent) IntentView {
	v := IntentView{
		ID:        in.ID.String(),
		Side:      in.Side,
		Remaining: in.Remaining(),
		Original:  in.Original,
		Status:    in.Status,
		Step:      in.Step,
	}
	if in.Party != nil {
		v.PartyID = in.Party.ID()
		v.Party = in.Party.Name()
	}
	return v
}

func views(q *IntentQueue) []IntentView {
	snap := q.Snapshot()
	out := make([]IntentView, len(snap))
	for i, in := range snap {
		out[i] = viewOf(in)
	}
	return out
}

// Offers returns the offer queue, head first.
func (e *Engine) Offers() []IntentView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return views(e.offers)
}

// Requests returns the request queue, head first.
func (e *Engine) Requests() []IntentView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return views(e.requests)
}

// Stats summarizes an engine's queues and lifetime volume.
type Stats struct {
	Commodity    string          `json:"commodity"`
	Offers       int             `json:"offers"`
	Requests     int             `json:"requests"`
	OfferTotal   decimal.Decimal `json:"offer_total"`
	RequestTotal decimal.Decimal `json:"request_total"`
	Matches      uint64          `json:"matches"`
	Matched      decimal.Decimal `json:"matched"`
}

// Stats returns a snapshot of the engine's state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Commodity:    e.commodity,
		Offers:       e.offers.Len(),
		Requests:     e.requests.Len(),
		OfferTotal:   e.offers.Total(),
		RequestTotal: e.requests.Total(),
		Matches:      e.seq,
		Matched:      e.matched,
	}
}
