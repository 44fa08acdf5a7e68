package agents

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

// Sink requests a commodity each step, up to its rate and remaining space,
// and keeps whatever is delivered.
type Sink struct {
	Base

	Commod   string
	Units    string
	Rate     decimal.Decimal
	Capacity decimal.Decimal // Zero means unbounded

	mu        sync.Mutex
	inventory *resource.Buffer
	pending   decimal.Decimal // Requested and not yet delivered
}

// NewSink creates a sink prototype.
func NewSink(commodity, units string, rate, capacity decimal.Decimal) *Sink {
	return &Sink{
		Commod:   commodity,
		Units:    units,
		Rate:     rate,
		Capacity: capacity,
	}
}

func (s *Sink) Role() Role { return RoleSink }

// Commodity returns the commodity consumed.
func (s *Sink) Commodity() string { return s.Commod }

func (s *Sink) Clone() Participant {
	return &Sink{
		Base:     s.identity(),
		Commod:   s.Commod,
		Units:    s.Units,
		Rate:     s.Rate,
		Capacity: s.Capacity,
	}
}

func (s *Sink) Deploy(ctx *Context, parent Participant) error {
	if s.Commod == "" {
		return errors.New("sink has no commodity")
	}
	if s.Rate.IsNegative() {
		return errors.New("sink rate is negative")
	}
	if err := ctx.register(s, parent, true); err != nil {
		return err
	}
	if s.Capacity.IsPositive() {
		s.inventory = resource.NewBuffer(s.Commod, s.Capacity)
	} else {
		s.inventory = resource.NewUnboundedBuffer(s.Commod)
	}
	return nil
}

// demand returns how much to request this step.
func (s *Sink) demand() decimal.Decimal {
	if _, bounded := s.inventory.Capacity(); !bounded {
		return s.Rate
	}
	room := s.inventory.Space().Sub(s.pending)
	return decimal.Min(room, s.Rate)
}

// HandleTick requests min(rate, free space). Space already promised to
// outstanding requests is not requested twice.
func (s *Sink) HandleTick(step int) {
	s.mu.Lock()
	amount := s.demand()
	if !amount.IsPositive() {
		s.mu.Unlock()
		return
	}
	s.pending = s.pending.Add(amount)
	s.mu.Unlock()

	claim, err := resource.New(amount, s.Commod, s.Units)
	if err != nil {
		return
	}
	req := market.NewRequest(s, claim)
	req.Step = step
	if err := s.ctx.Markets.Submit(req); err != nil {
		s.mu.Lock()
		s.pending = s.pending.Sub(amount)
		s.mu.Unlock()
		slog.Warn("request rejected", "agent", s.id, "name", s.name, "commodity", s.Commod, "error", err)
	}
}

func (s *Sink) HandleTock(step int) {}

// AddResource accepts the goods for a matched request.
func (s *Sink) AddResource(m market.Match, manifest []*resource.Quantity) market.Receipt {
	if m.Requester() == nil || m.Requester().ID() != s.id {
		return market.RejectedWrongParty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.inventory.PushAll(manifest); err != nil {
		slog.Error("sink cannot store delivery", "agent", s.id, "match", m.Seq, "error", err)
		return market.RejectedOverCapacity
	}
	s.pending = s.pending.Sub(resource.Sum(manifest))
	return market.Accepted
}

// Release drops the reservation for a request whose delivery failed, so the
// amount is requested again.
func (s *Sink) Release(m market.Match) {
	if m.Requester() == nil || m.Requester().ID() != s.id {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = decimal.Max(s.pending.Sub(m.Amount()), decimal.Zero)
}

// Inventory returns the amount held.
func (s *Sink) Inventory() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inventory == nil {
		return decimal.Zero
	}
	return s.inventory.Quantity()
}

// Pending returns the amount requested and not yet delivered.
func (s *Sink) Pending() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
