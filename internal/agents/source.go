package agents

import (
	"errors"
	"log/slog"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"
	"github.com/shopspring/decimal"

	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

// noiseFrequency stretches production noise over roughly a dozen steps.
const noiseFrequency = 0.08

// amountPlaces is the decimal precision noisy production is rounded to.
const amountPlaces = 3

// Source produces a commodity each step and offers what it produced.
type Source struct {
	Base

	Commod      string
	Units       string
	Rate        decimal.Decimal
	Capacity    decimal.Decimal // Zero means unbounded
	Variability float64

	mu        sync.Mutex
	inventory *resource.Buffer
	committed decimal.Decimal // Offered and not yet delivered
	noise     opensimplex.Noise
}

// NewSource creates a source prototype.
func NewSource(commodity, units string, rate, capacity decimal.Decimal) *Source {
	return &Source{
		Commod:   commodity,
		Units:    units,
		Rate:     rate,
		Capacity: capacity,
	}
}

func (s *Source) Role() Role { return RoleSource }

// Commodity returns the commodity produced.
func (s *Source) Commodity() string { return s.Commod }

func (s *Source) Clone() Participant {
	return &Source{
		Base:        s.identity(),
		Commod:      s.Commod,
		Units:       s.Units,
		Rate:        s.Rate,
		Capacity:    s.Capacity,
		Variability: s.Variability,
	}
}

func (s *Source) Deploy(ctx *Context, parent Participant) error {
	if s.Commod == "" {
		return errors.New("source has no commodity")
	}
	if s.Rate.IsNegative() {
		return errors.New("source rate is negative")
	}
	if err := ctx.register(s, parent, true); err != nil {
		return err
	}
	if s.Capacity.IsPositive() {
		s.inventory = resource.NewBuffer(s.Commod, s.Capacity)
	} else {
		s.inventory = resource.NewUnboundedBuffer(s.Commod)
	}
	s.noise = opensimplex.New(ctx.Seed + int64(s.id))
	return nil
}

// production returns this step's output before capacity limits.
func (s *Source) production(step int) decimal.Decimal {
	if s.Variability <= 0 || s.noise == nil {
		return s.Rate
	}
	factor := 1 + s.Variability*s.noise.Eval2(float64(step)*noiseFrequency, float64(s.id))
	if factor < 0 {
		factor = 0
	}
	return s.Rate.Mul(decimal.NewFromFloat(factor)).Round(amountPlaces)
}

// HandleTick produces up to one step's worth of the commodity into inventory
// and offers everything held that is not already committed: this step's
// output plus goods restocked or left unoffered earlier.
func (s *Source) HandleTick(step int) {
	amount := s.production(step)

	s.mu.Lock()
	if space := s.inventory.Space(); !space.IsNegative() {
		amount = decimal.Min(amount, space)
	}
	if amount.IsPositive() {
		s.produce(amount)
	}
	offered := s.inventory.Quantity().Sub(s.committed)
	if !offered.IsPositive() {
		s.mu.Unlock()
		return
	}
	s.committed = s.committed.Add(offered)
	s.mu.Unlock()

	claim, err := resource.New(offered, s.Commod, s.Units)
	if err != nil {
		return
	}
	offer := market.NewOffer(s, claim)
	offer.Step = step
	if err := s.ctx.Markets.Submit(offer); err != nil {
		s.mu.Lock()
		s.committed = s.committed.Sub(offered)
		s.mu.Unlock()
		slog.Warn("offer rejected", "agent", s.id, "name", s.name, "commodity", s.Commod, "error", err)
	}
}

// produce adds amount to inventory. The caller holds s.mu.
func (s *Source) produce(amount decimal.Decimal) {
	produced, err := resource.Create(amount, s.Commod, s.Units, s.ctx.Tracker)
	if err == nil {
		err = s.inventory.Push(produced)
	}
	if err != nil {
		slog.Warn("source production failed", "agent", s.id, "name", s.name, "error", err)
		return
	}
	if s.ctx.Tracker != nil {
		s.ctx.Tracker.Created(produced.ID, s.id)
	}
}

func (s *Source) HandleTock(step int) {}

// RemoveResource hands over the goods for a matched offer.
func (s *Source) RemoveResource(m market.Match) ([]*resource.Quantity, market.Receipt) {
	if m.Supplier() == nil || m.Supplier().ID() != s.id {
		return nil, market.RejectedWrongParty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	manifest, err := s.inventory.Pop(m.Amount())
	if err != nil {
		slog.Error("source cannot fill match", "agent", s.id, "match", m.Seq, "amount", m.Amount(), "error", err)
		return nil, market.RejectedNoStock
	}
	s.committed = s.committed.Sub(m.Amount())
	return manifest, market.Accepted
}

// Restock takes back goods a requester refused. They are offered again on
// the next tick.
func (s *Source) Restock(goods []*resource.Quantity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory.PushAll(goods)
}

// Inventory returns the amount held.
func (s *Source) Inventory() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inventory == nil {
		return decimal.Zero
	}
	return s.inventory.Quantity()
}

// Release uncommits the amount of an offer whose goods were never handed
// over, so it is offered again on the next tick.
func (s *Source) Release(m market.Match) {
	if m.Supplier() == nil || m.Supplier().ID() != s.id {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = decimal.Max(s.committed.Sub(m.Amount()), decimal.Zero)
}

// Committed returns the amount offered and not yet delivered.
func (s *Source) Committed() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}
