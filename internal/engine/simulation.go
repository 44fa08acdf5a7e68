// Simulation ties agents, markets and the output recorder together and runs
// them each step.
package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/talgya/tradecycle/internal/agents"
	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

// recentMatches is the size of the recent match ring.
const recentMatches = 512

// Recorder receives everything the simulation writes to its output database.
// Implementations must be safe for concurrent use: deliveries for different
// commodities are recorded from parallel resolve workers.
type Recorder interface {
	resource.Tracker
	SetStep(step int)
	RecordAgent(p agents.Participant)
	RecordTransaction(sender, receiver uint64, commodity string, step int, goods []*resource.Quantity)
	RecordMatch(m market.Match, step int)
	Flush(ctx context.Context) error
}

// MatchRecord is a delivered or refused match as kept in the recent ring.
type MatchRecord struct {
	Seq         uint64          `json:"seq"`
	Step        int             `json:"step"`
	Commodity   string          `json:"commodity"`
	SupplierID  uint64          `json:"supplier_id"`
	Supplier    string          `json:"supplier"`
	RequesterID uint64          `json:"requester_id"`
	Requester   string          `json:"requester"`
	Amount      decimal.Decimal `json:"amount"`
	Receipt     string          `json:"receipt"`
}

// SimStats tracks aggregate simulation statistics.
type SimStats struct {
	Step        int             `json:"step"`
	Agents      int             `json:"agents"`
	Tickers     int             `json:"tickers"`
	Markets     int             `json:"markets"`
	Matches     uint64          `json:"matches"`
	Matched     decimal.Decimal `json:"matched"`
	Deliveries  uint64          `json:"deliveries"`
	Rejections  uint64          `json:"rejections"`
	Failures    uint64          `json:"resolve_failures"`
	FlushErrors uint64          `json:"flush_errors"`
}

// AgentView is a deployed agent as reported by the API.
type AgentView struct {
	ID        uint64           `json:"id"`
	Name      string           `json:"name"`
	Role      agents.Role      `json:"role"`
	Prototype string           `json:"prototype"`
	ParentID  uint64           `json:"parent_id"`
	EnterStep int              `json:"enter_step"`
	Commodity string           `json:"commodity,omitempty"`
	Inventory *decimal.Decimal `json:"inventory,omitempty"`
}

// Simulation holds the complete simulation state.
type Simulation struct {
	ID       uuid.UUID
	Agents   *agents.Context
	Markets  *market.Registry
	Courier  *Courier
	Recorder Recorder // Nil when nothing is recorded

	// OnMatch, if set, receives every delivered or refused match after it
	// is added to the recent ring. It is called from resolve workers.
	OnMatch func(MatchRecord)

	mu          sync.RWMutex
	lastStep    int
	recent      []MatchRecord // Ring, oldest overwritten first
	recentNext  int
	failures    uint64
	flushErrors uint64
}

// NewSimulation wires a fresh agent context to the markets and recorder.
// Prototypes and root agents are added by the caller afterwards.
func NewSimulation(markets *market.Registry, rec Recorder) *Simulation {
	ctx := agents.NewContext(markets)
	s := &Simulation{
		ID:       uuid.New(),
		Agents:   ctx,
		Markets:  markets,
		Recorder: rec,
		lastStep: -1,
	}
	s.Courier = NewCourier(rec, ctx.Step)
	s.Courier.OnDelivery = s.remember
	ctx.Dispatcher = s.Courier
	if rec != nil {
		ctx.Tracker = rec
		ctx.OnDeploy = rec.RecordAgent
	}
	return s
}

// Attach wires the simulation's phases into e.
func (s *Simulation) Attach(e *Engine) {
	e.OnTick = s.TickAll
	e.OnResolve = s.ResolveMarkets
	e.OnTock = s.TockAll
}

// TickAll advances the clock to step and lets every ticker emit intents.
func (s *Simulation) TickAll(step int) {
	s.Agents.SetStep(step)
	if s.Recorder != nil {
		s.Recorder.SetStep(step)
	}
	for _, p := range s.Agents.Tickers() {
		p.HandleTick(step)
	}
}

// ResolveMarkets resolves every commodity once. Failures are logged and
// counted; the step carries on.
func (s *Simulation) ResolveMarkets(ctx context.Context, step int) {
	results, err := s.Markets.ResolveAll(ctx)

	matched := 0
	for _, r := range results {
		matched += len(r.Matches)
	}
	if err != nil {
		failed := 0
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		s.mu.Lock()
		s.failures += uint64(failed)
		s.mu.Unlock()
	}
	slog.Debug("markets resolved", "step", step, "markets", len(results), "matches", matched)
}

// TockAll lets every ticker react to the step's matches, then flushes the
// step to the recorder.
func (s *Simulation) TockAll(step int) {
	for _, p := range s.Agents.Tickers() {
		p.HandleTock(step)
	}
	s.mu.Lock()
	s.lastStep = step
	s.mu.Unlock()

	if s.Recorder == nil {
		return
	}
	if err := s.Recorder.Flush(context.Background()); err != nil {
		s.mu.Lock()
		s.flushErrors++
		s.mu.Unlock()
		slog.Error("flush step", "step", step, "error", err)
	}
}

// CurrentStep returns the most recently completed step, -1 before the first.
func (s *Simulation) CurrentStep() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastStep
}

func (s *Simulation) remember(d Delivery) {
	rec := MatchRecord{
		Seq:       d.Match.Seq,
		Step:      d.Step,
		Commodity: d.Match.Commodity,
		Amount:    d.Match.Amount(),
		Receipt:   d.Receipt.String(),
	}
	if p := d.Match.Supplier(); p != nil {
		rec.SupplierID, rec.Supplier = p.ID(), p.Name()
	}
	if p := d.Match.Requester(); p != nil {
		rec.RequesterID, rec.Requester = p.ID(), p.Name()
	}

	s.mu.Lock()
	if len(s.recent) < recentMatches {
		s.recent = append(s.recent, rec)
	} else {
		s.recent[s.recentNext] = rec
		s.recentNext = (s.recentNext + 1) % recentMatches
	}
	s.mu.Unlock()

	if s.OnMatch != nil {
		s.OnMatch(rec)
	}
}

// RecentMatches returns up to limit of the latest matches, newest first.
// An empty commodity returns every commodity; limit <= 0 returns all kept.
func (s *Simulation) RecentMatches(commodity string, limit int) []MatchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.recent)
	var out []MatchRecord
	for i := 0; i < n; i++ {
		// Walk backwards from the newest entry.
		idx := (s.recentNext - 1 - i + n) % n
		if len(s.recent) < recentMatches {
			idx = n - 1 - i
		}
		r := s.recent[idx]
		if commodity != "" && r.Commodity != commodity {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// MarketStats returns every market's stats in commodity order.
func (s *Simulation) MarketStats() []market.Stats {
	return s.Markets.Stats()
}

// AgentViews lists deployed agents ordered by ID.
func (s *Simulation) AgentViews() []AgentView {
	all := s.Agents.Agents()
	out := make([]AgentView, 0, len(all))
	for _, p := range all {
		v := AgentView{
			ID:        p.ID(),
			Name:      p.Name(),
			Role:      p.Role(),
			Prototype: p.Prototype(),
			ParentID:  p.ParentID(),
			EnterStep: p.EnterStep(),
		}
		if h, ok := p.(agents.Holder); ok {
			inv := h.Inventory()
			v.Commodity = h.Commodity()
			v.Inventory = &inv
		}
		out = append(out, v)
	}
	return out
}

// Stats returns aggregate statistics.
func (s *Simulation) Stats() SimStats {
	st := SimStats{
		Step:       s.CurrentStep(),
		Agents:     len(s.Agents.Agents()),
		Tickers:    len(s.Agents.Tickers()),
		Matched:    decimal.Zero,
		Deliveries: s.Courier.Delivered(),
		Rejections: s.Courier.Rejected(),
	}
	for _, ms := range s.Markets.Stats() {
		st.Markets++
		st.Matches += ms.Matches
		st.Matched = st.Matched.Add(ms.Matched)
	}
	s.mu.RLock()
	st.Failures = s.failures
	st.FlushErrors = s.flushErrors
	s.mu.RUnlock()
	return st
}
