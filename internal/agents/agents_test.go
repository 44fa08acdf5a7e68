package agents

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tradecycle/internal/market"
	"github.com/talgya/tradecycle/internal/resource"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// handover moves goods from supplier to receiver for every match.
type handover struct {
	matches  []market.Match
	receipts []market.Receipt
}

func (h *handover) Notify(m market.Match) {
	h.matches = append(h.matches, m)
	sup, ok := m.Supplier().(market.Supplier)
	if !ok {
		h.receipts = append(h.receipts, market.RejectedWrongParty)
		return
	}
	goods, r := sup.RemoveResource(m)
	if r != market.Accepted {
		h.receipts = append(h.receipts, r)
		return
	}
	rcv := m.Requester().(market.Receiver)
	h.receipts = append(h.receipts, rcv.AddResource(m, goods))
}

type memTracker struct {
	next     uint64
	creators map[uint64]uint64
}

func (m *memTracker) Track(q *resource.Quantity) uint64 { m.next++; return m.next }

func (m *memTracker) Created(resID, agentID uint64) {
	if m.creators == nil {
		m.creators = make(map[uint64]uint64)
	}
	m.creators[resID] = agentID
}

func newTestContext(t *testing.T) (*Context, *handover) {
	t.Helper()
	h := &handover{}
	ctx := NewContext(market.NewRegistry())
	ctx.Dispatcher = h
	return ctx, h
}

func deployMilkMarket(t *testing.T, ctx *Context) {
	t.Helper()
	_, err := ctx.NewPrototype(Spec{Name: "milk market", Kind: "Market", Commodity: "milk"})
	require.NoError(t, err)
	_, err = ctx.Build("milk market", nil)
	require.NoError(t, err)
}

func step(t *testing.T, ctx *Context, n int) {
	t.Helper()
	ctx.SetStep(n)
	for _, p := range ctx.Tickers() {
		p.HandleTick(n)
	}
	_, err := ctx.Markets.ResolveAll(context.Background())
	require.NoError(t, err)
	for _, p := range ctx.Tickers() {
		p.HandleTock(n)
	}
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "Source", RoleSource.String())
	assert.Equal(t, "Market", RoleMarket.String())
	assert.Equal(t, "Role(9)", Role(9).String())

	text, err := RoleSink.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Sink", string(text))
}

func TestNewPrototypeUnknownKind(t *testing.T) {
	ctx, _ := newTestContext(t)
	_, err := ctx.NewPrototype(Spec{Name: "x", Kind: "Reactor"})
	assert.ErrorContains(t, err, "unknown agent kind")
}

func TestNewPrototypeValidation(t *testing.T) {
	ctx, _ := newTestContext(t)

	_, err := ctx.NewPrototype(Spec{Name: "farm", Kind: "Source", Rate: d(1)})
	assert.ErrorContains(t, err, "commodity")

	_, err = ctx.NewPrototype(Spec{Name: "farm", Kind: "Source", Commodity: "milk"})
	assert.ErrorContains(t, err, "rate")

	_, err = ctx.NewPrototype(Spec{Name: "farm", Kind: "Source", Commodity: "milk", Rate: d(1), Variability: 2})
	assert.ErrorContains(t, err, "variability")

	_, err = ctx.NewPrototype(Spec{Name: "b", Kind: "Builder", Schedule: []Build{{Prototype: "farm", Step: -1}}})
	assert.ErrorContains(t, err, "negative step")
}

func TestDuplicatePrototype(t *testing.T) {
	ctx, _ := newTestContext(t)
	spec := Spec{Name: "farm", Kind: "Source", Commodity: "milk", Rate: d(1)}
	_, err := ctx.NewPrototype(spec)
	require.NoError(t, err)
	_, err = ctx.NewPrototype(spec)
	assert.ErrorContains(t, err, "already registered")
}

func TestRegisterKind(t *testing.T) {
	ctx, _ := newTestContext(t)
	ctx.RegisterKind("Dairy", func(spec Spec) (Participant, error) {
		return NewSource("milk", "kg", spec.Rate, decimal.Zero), nil
	})

	p, err := ctx.NewPrototype(Spec{Name: "dairy", Kind: "Dairy", Rate: d(3)})
	require.NoError(t, err)
	assert.Equal(t, RoleSource, p.Role())
	assert.Equal(t, []string{"dairy"}, ctx.Prototypes())
}

func TestBuildAssignsIdentity(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)
	_, err := ctx.NewPrototype(Spec{Name: "farm", Kind: "Source", Commodity: "milk", Units: "kg", Rate: d(5)})
	require.NoError(t, err)

	var deployed []uint64
	ctx.OnDeploy = func(p Participant) { deployed = append(deployed, p.ID()) }
	ctx.SetStep(3)

	a, err := ctx.Build("farm", nil)
	require.NoError(t, err)
	b, err := ctx.Build("farm", a)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), a.ID())
	assert.Equal(t, uint64(3), b.ID())
	assert.Equal(t, a.ID(), b.ParentID())
	assert.Equal(t, 3, b.EnterStep())
	assert.Equal(t, "farm", b.Prototype())
	assert.Equal(t, "farm", b.Name())
	assert.Equal(t, []uint64{2, 3}, deployed)
	assert.Len(t, ctx.Tickers(), 2, "markets do not tick")
	assert.Len(t, ctx.Agents(), 3)

	got, ok := ctx.Agent(3)
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestDeployTwiceFails(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)
	s := NewSource("milk", "kg", d(1), decimal.Zero)
	require.NoError(t, s.Deploy(ctx, nil))
	assert.ErrorContains(t, s.Deploy(ctx, nil), "already deployed")
}

func TestDuplicateMarketFails(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)
	_, err := ctx.Build("milk market", nil)
	assert.Error(t, err)
}

func TestSourceToSinkDelivery(t *testing.T) {
	ctx, h := newTestContext(t)
	tr := &memTracker{}
	ctx.Tracker = tr
	deployMilkMarket(t, ctx)

	src := NewSource("milk", "kg", d(10), decimal.Zero)
	snk := NewSink("milk", "kg", d(4), decimal.Zero)
	require.NoError(t, src.Deploy(ctx, nil))
	require.NoError(t, snk.Deploy(ctx, nil))

	step(t, ctx, 0)

	require.Len(t, h.matches, 1)
	assert.Equal(t, []market.Receipt{market.Accepted}, h.receipts)
	assert.True(t, src.Inventory().Equal(d(6)))
	assert.True(t, snk.Inventory().Equal(d(4)))
	assert.True(t, src.Committed().Equal(d(6)), "unmatched remainder stays committed")
	assert.True(t, snk.Pending().IsZero())
	assert.Equal(t, src.ID(), tr.creators[1])

	step(t, ctx, 1)
	assert.True(t, snk.Inventory().Equal(d(8)))
	assert.True(t, src.Inventory().Add(snk.Inventory()).Equal(d(20)), "mass is conserved")
}

func TestSinkRespectsCapacity(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)

	src := NewSource("milk", "kg", d(100), decimal.Zero)
	snk := NewSink("milk", "kg", d(50), d(70))
	require.NoError(t, src.Deploy(ctx, nil))
	require.NoError(t, snk.Deploy(ctx, nil))

	for i := 0; i < 4; i++ {
		step(t, ctx, i)
	}
	assert.True(t, snk.Inventory().Equal(d(70)))
	assert.True(t, snk.Pending().IsZero())
}

func TestSinkPendingBlocksOverRequest(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)

	snk := NewSink("milk", "kg", d(50), d(70))
	require.NoError(t, snk.Deploy(ctx, nil))

	snk.HandleTick(0)
	snk.HandleTick(1)
	snk.HandleTick(2)

	assert.True(t, snk.Pending().Equal(d(70)))
	e, err := ctx.Markets.Engine("milk")
	require.NoError(t, err)
	assert.Equal(t, 2, e.Stats().Requests)
}

func TestSinkReleaseRequestsAgain(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)

	snk := NewSink("milk", "kg", d(50), d(70))
	other := NewSink("milk", "kg", d(50), d(70))
	require.NoError(t, snk.Deploy(ctx, nil))
	require.NoError(t, other.Deploy(ctx, nil))

	snk.HandleTick(0)
	require.True(t, snk.Pending().Equal(d(50)))

	failed := market.Match{
		Request:  market.NewRequest(snk, resource.MustNew(d(50), "milk", "kg")),
		Quantity: resource.MustNew(d(50), "milk", "kg"),
	}
	other.Release(failed)
	assert.True(t, snk.Pending().Equal(d(50)), "foreign matches are ignored")

	snk.Release(failed)
	assert.True(t, snk.Pending().IsZero())

	snk.HandleTick(1)
	assert.True(t, snk.Pending().Equal(d(50)))
}

func TestSourceOffersUncommittedStock(t *testing.T) {
	ctx, _ := newTestContext(t)
	src := NewSource("milk", "kg", d(5), decimal.Zero)
	require.NoError(t, src.Deploy(ctx, nil))

	// No market yet: the offer is rejected and the goods stay uncommitted.
	src.HandleTick(0)
	assert.True(t, src.Inventory().Equal(d(5)))
	assert.True(t, src.Committed().IsZero())

	deployMilkMarket(t, ctx)
	src.HandleTick(1)
	assert.True(t, src.Inventory().Equal(d(10)))
	assert.True(t, src.Committed().Equal(d(10)))

	e, err := ctx.Markets.Engine("milk")
	require.NoError(t, err)
	assert.True(t, e.Stats().OfferTotal.Equal(d(10)))

	src.Release(market.Match{
		Offer:    market.NewOffer(src, resource.MustNew(d(4), "milk", "kg")),
		Quantity: resource.MustNew(d(4), "milk", "kg"),
	})
	assert.True(t, src.Committed().Equal(d(6)))
}

func TestSourceRejectsForeignMatch(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)
	a := NewSource("milk", "kg", d(5), decimal.Zero)
	b := NewSource("milk", "kg", d(5), decimal.Zero)
	require.NoError(t, a.Deploy(ctx, nil))
	require.NoError(t, b.Deploy(ctx, nil))

	m := market.Match{
		Offer:    market.NewOffer(b, resource.MustNew(d(1), "milk", "kg")),
		Quantity: resource.MustNew(d(1), "milk", "kg"),
	}
	goods, r := a.RemoveResource(m)
	assert.Nil(t, goods)
	assert.Equal(t, market.RejectedWrongParty, r)
}

func TestSourceNoStock(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)
	a := NewSource("milk", "kg", d(5), decimal.Zero)
	require.NoError(t, a.Deploy(ctx, nil))

	m := market.Match{
		Offer:    market.NewOffer(a, resource.MustNew(d(1), "milk", "kg")),
		Quantity: resource.MustNew(d(1), "milk", "kg"),
	}
	_, r := a.RemoveResource(m)
	assert.Equal(t, market.RejectedNoStock, r)
}

func TestSourceVariabilityIsDeterministic(t *testing.T) {
	run := func() []decimal.Decimal {
		ctx, _ := newTestContext(t)
		ctx.Seed = 42
		deployMilkMarket(t, ctx)
		s := NewSource("milk", "kg", d(100), decimal.Zero)
		s.Variability = 0.5
		require.NoError(t, s.Deploy(ctx, nil))
		var out []decimal.Decimal
		for i := 0; i < 10; i++ {
			out = append(out, s.production(i))
		}
		return out
	}

	first, second := run(), run()
	for i := range first {
		assert.True(t, first[i].Equal(second[i]))
		assert.False(t, first[i].IsNegative())
		assert.True(t, first[i].LessThanOrEqual(d(150)))
	}
}

func TestBuilderDeploysOnSchedule(t *testing.T) {
	ctx, _ := newTestContext(t)
	deployMilkMarket(t, ctx)
	_, err := ctx.NewPrototype(Spec{Name: "farm", Kind: "Source", Commodity: "milk", Rate: d(1)})
	require.NoError(t, err)
	_, err = ctx.NewPrototype(Spec{
		Name: "builder",
		Kind: "Builder",
		Schedule: []Build{
			{Prototype: "farm", Step: 2},
			{Prototype: "farm", Step: 0},
			{Prototype: "farm", Step: 2},
			{Prototype: "missing", Step: 1},
		},
	})
	require.NoError(t, err)

	p, err := ctx.Build("builder", nil)
	require.NoError(t, err)
	b := p.(*Builder)
	assert.Equal(t, []int{0, 1, 2}, b.Steps())
	assert.Equal(t, []string{"farm", "farm"}, b.Scheduled(2))

	for i := 0; i < 3; i++ {
		step(t, ctx, i)
	}

	built := b.Built()
	require.Len(t, built, 3)
	for _, id := range built {
		child, ok := ctx.Agent(id)
		require.True(t, ok)
		assert.Equal(t, b.ID(), child.ParentID())
	}
	last, _ := ctx.Agent(built[2])
	assert.Equal(t, 2, last.EnterStep())
}

func TestCloneDoesNotShareSchedule(t *testing.T) {
	b := NewBuilder()
	b.Schedule("farm", 1)
	c := b.Clone().(*Builder)
	c.Schedule("farm", 1)

	assert.Len(t, b.Scheduled(1), 1)
	assert.Len(t, c.Scheduled(1), 2)
}
