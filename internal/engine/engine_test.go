package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tradecycle/internal/agents"
	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type memRecorder struct {
	mu           sync.Mutex
	next         uint64
	step         int
	agents       []uint64
	creators     map[uint64]uint64
	transactions int
	moved        decimal.Decimal
	matches      int
	flushes      int
}

func (m *memRecorder) Track(q *resource.Quantity) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	q.Created = m.step
	return m.next
}

func (m *memRecorder) Created(resID, agentID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creators == nil {
		m.creators = make(map[uint64]uint64)
	}
	m.creators[resID] = agentID
}

func (m *memRecorder) SetStep(step int) {
	m.mu.Lock()
	m.step = step
	m.mu.Unlock()
}

func (m *memRecorder) RecordAgent(p agents.Participant) {
	m.mu.Lock()
	m.agents = append(m.agents, p.ID())
	m.mu.Unlock()
}

func (m *memRecorder) RecordTransaction(sender, receiver uint64, commodity string, step int, goods []*resource.Quantity) {
	m.mu.Lock()
	m.transactions++
	m.moved = m.moved.Add(resource.Sum(goods))
	m.mu.Unlock()
}

func (m *memRecorder) RecordMatch(mt market.Match, step int) {
	m.mu.Lock()
	m.matches++
	m.mu.Unlock()
}

func (m *memRecorder) Flush(ctx context.Context) error {
	m.mu.Lock()
	m.flushes++
	m.mu.Unlock()
	return nil
}

func TestEngineRunsDuration(t *testing.T) {
	e := NewEngine()
	e.Start = 3
	e.Duration = 4

	var phases []string
	var steps []int
	e.OnTick = func(step int) { phases = append(phases, "tick"); steps = append(steps, step) }
	e.OnResolve = func(ctx context.Context, step int) { phases = append(phases, "resolve") }
	e.OnTock = func(step int) { phases = append(phases, "tock") }

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []int{3, 4, 5, 6}, steps)
	assert.Equal(t, []string{"tick", "resolve", "tock"}, phases[:3])
	assert.Len(t, phases, 12)
	assert.Equal(t, 7, e.Tick())
	assert.Equal(t, 7, e.End())
	assert.False(t, e.Running())
}

func TestEngineStop(t *testing.T) {
	e := NewEngine()
	e.OnTock = func(step int) {
		if step == 2 {
			e.Stop()
		}
	}
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 3, e.Tick())
}

func TestEnginePausedHonorsCancel(t *testing.T) {
	e := NewEngine()
	e.SetSpeed(0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, e.Tick())
}

func TestEngineSpeedClamp(t *testing.T) {
	e := NewEngine()
	e.SetSpeed(-2)
	assert.Zero(t, e.Speed())
	e.SetSpeed(4)
	assert.Equal(t, 4.0, e.Speed())
}

func TestSimTime(t *testing.T) {
	assert.Equal(t, "Jan Year 1 (step 0)", SimTime(0))
	assert.Equal(t, "Dec Year 1 (step 11)", SimTime(11))
	assert.Equal(t, "Mar Year 3 (step 26)", SimTime(26))
	assert.Equal(t, "step -1", SimTime(-1))
}

func newDairy(t *testing.T, rec Recorder) (*Simulation, *agents.Source, *agents.Sink) {
	t.Helper()
	sim := NewSimulation(market.NewRegistry(), rec)
	ctx := sim.Agents

	_, err := ctx.NewPrototype(agents.Spec{Name: "milk market", Kind: "Market", Commodity: "milk"})
	require.NoError(t, err)
	_, err = ctx.Build("milk market", nil)
	require.NoError(t, err)

	src := agents.NewSource("milk", "kg", d(100), decimal.Zero)
	snk := agents.NewSink("milk", "kg", d(30), decimal.Zero)
	require.NoError(t, src.Deploy(ctx, nil))
	require.NoError(t, snk.Deploy(ctx, nil))
	return sim, src, snk
}

func TestSimulationMovesGoods(t *testing.T) {
	rec := &memRecorder{}
	sim, src, snk := newDairy(t, rec)

	e := NewEngine()
	e.Duration = 3
	sim.Attach(e)
	require.NoError(t, e.Run(context.Background()))

	assert.True(t, snk.Inventory().Equal(d(90)))
	assert.True(t, src.Inventory().Equal(d(210)))
	assert.Equal(t, 3, rec.transactions)
	assert.Equal(t, 3, rec.matches)
	assert.True(t, rec.moved.Equal(d(90)))
	assert.Equal(t, 3, rec.flushes)
	assert.Equal(t, []uint64{1, 2, 3}, rec.agents)

	st := sim.Stats()
	assert.Equal(t, 2, st.Step)
	assert.Equal(t, 3, st.Agents)
	assert.Equal(t, 2, st.Tickers)
	assert.Equal(t, 1, st.Markets)
	assert.Equal(t, uint64(3), st.Matches)
	assert.Equal(t, uint64(3), st.Deliveries)
	assert.Zero(t, st.Rejections)
	assert.True(t, st.Matched.Equal(d(90)))

	recent := sim.RecentMatches("", 2)
	require.Len(t, recent, 2)
	assert.Equal(t, 2, recent[0].Step)
	assert.Equal(t, 1, recent[1].Step)
	assert.Equal(t, "accepted", recent[0].Receipt)
	assert.Empty(t, sim.RecentMatches("water", 0))

	views := sim.AgentViews()
	require.Len(t, views, 3)
	assert.Equal(t, agents.RoleMarket, views[0].Role)
	assert.Nil(t, views[0].Inventory)
	require.NotNil(t, views[2].Inventory)
	assert.True(t, views[2].Inventory.Equal(d(90)))
}

func TestSimulationWithoutRecorder(t *testing.T) {
	sim, _, snk := newDairy(t, nil)
	e := NewEngine()
	e.Duration = 2
	sim.Attach(e)
	require.NoError(t, e.Run(context.Background()))
	assert.True(t, snk.Inventory().Equal(d(60)))
}

func TestRecentMatchesRing(t *testing.T) {
	sim := NewSimulation(market.NewRegistry(), nil)
	src := agents.NewSource("milk", "kg", d(1), decimal.Zero)
	for i := 0; i < recentMatches+10; i++ {
		m := market.Match{
			Seq:       uint64(i),
			Commodity: "milk",
			Offer:     market.NewOffer(src, resource.MustNew(d(1), "milk", "kg")),
			Request:   market.NewRequest(src, resource.MustNew(d(1), "milk", "kg")),
			Quantity:  resource.MustNew(d(1), "milk", "kg"),
		}
		sim.remember(Delivery{Match: m, Step: i})
	}

	all := sim.RecentMatches("milk", 0)
	require.Len(t, all, recentMatches)
	assert.Equal(t, uint64(recentMatches+9), all[0].Seq)
	assert.Equal(t, uint64(10), all[len(all)-1].Seq)
}

// refusingSink takes no deliveries.
type refusingSink struct{ id uint64 }

func (r refusingSink) ID() uint64   { return r.id }
func (r refusingSink) Name() string { return "refuser" }
func (r refusingSink) AddResource(market.Match, []*resource.Quantity) market.Receipt {
	return market.RejectedOverCapacity
}

type plainParty struct{ id uint64 }

func (p plainParty) ID() uint64   { return p.id }
func (p plainParty) Name() string { return "plain" }

func TestCourierRefusedGoodsAreRestocked(t *testing.T) {
	sim, src, _ := newDairy(t, nil)
	src.HandleTick(0)
	require.True(t, src.Inventory().Equal(d(100)))

	m := market.Match{
		Commodity: "milk",
		Offer:     market.NewOffer(src, resource.MustNew(d(40), "milk", "kg")),
		Request:   market.NewRequest(refusingSink{id: 99}, resource.MustNew(d(40), "milk", "kg")),
		Quantity:  resource.MustNew(d(40), "milk", "kg"),
	}
	sim.Courier.Notify(m)

	assert.True(t, src.Inventory().Equal(d(100)))
	assert.True(t, src.Committed().Equal(d(60)))
	assert.Equal(t, uint64(1), sim.Courier.Rejected())
	assert.Equal(t, uint64(1), sim.Courier.Rejections()[market.RejectedOverCapacity])
	assert.Zero(t, sim.Courier.Delivered())

	// The refused 40 is offered again along with the next step's output.
	src.HandleTick(1)
	assert.True(t, src.Inventory().Equal(d(200)))
	assert.True(t, src.Committed().Equal(d(200)))
}

func TestCourierReleasesUndeliveredMatch(t *testing.T) {
	sim, src, snk := newDairy(t, nil)
	snk.HandleTick(0)
	require.True(t, snk.Pending().Equal(d(30)))

	// The source has produced nothing, so it cannot fill the match.
	m := market.Match{
		Commodity: "milk",
		Offer:     market.NewOffer(src, resource.MustNew(d(30), "milk", "kg")),
		Request:   market.NewRequest(snk, resource.MustNew(d(30), "milk", "kg")),
		Quantity:  resource.MustNew(d(30), "milk", "kg"),
	}
	sim.Courier.Notify(m)

	assert.Equal(t, uint64(1), sim.Courier.Rejections()[market.RejectedNoStock])
	assert.True(t, snk.Pending().IsZero())
	assert.True(t, src.Committed().IsZero())
	assert.True(t, snk.Inventory().IsZero())
}

func TestCourierRejectsIncapableParties(t *testing.T) {
	c := NewCourier(nil, nil)
	var got []Delivery
	c.OnDelivery = func(d Delivery) { got = append(got, d) }

	m := market.Match{
		Commodity: "milk",
		Offer:     market.NewOffer(plainParty{id: 1}, resource.MustNew(d(1), "milk", "kg")),
		Request:   market.NewRequest(plainParty{id: 2}, resource.MustNew(d(1), "milk", "kg")),
		Quantity:  resource.MustNew(d(1), "milk", "kg"),
	}
	c.Notify(m)

	require.Len(t, got, 1)
	assert.Equal(t, market.RejectedWrongParty, got[0].Receipt)
	assert.Nil(t, got[0].Goods)
}
