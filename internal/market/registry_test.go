package market

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tradecycle/internal/resource"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewEngine("milk", nil)))
	assert.Error(t, r.Register(NewEngine("milk", nil)), "duplicate commodity")
	assert.ErrorIs(t, r.Register(NewEngine("", nil)), ErrUnknownCommodity)
	assert.Error(t, r.Register(nil))

	_, err := r.Engine("ore")
	assert.ErrorIs(t, err, ErrUnknownCommodity)
}

func TestRegistrySubmitRoutesByCommodity(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewEngine("milk", nil)))
	require.NoError(t, r.Register(NewEngine("ore", nil)))

	ore := resource.MustNew(decimal.NewFromInt(3), "ore", "t")
	require.NoError(t, r.Submit(NewOffer(testParty{id: 1}, ore)))

	e, err := r.Engine("ore")
	require.NoError(t, err)
	assert.Len(t, e.Offers(), 1)

	cheese := resource.MustNew(decimal.NewFromInt(1), "cheese", "kg")
	assert.ErrorIs(t, r.Submit(NewRequest(testParty{id: 2}, cheese)), ErrUnknownCommodity)
	assert.Equal(t, []string{"milk", "ore"}, r.Commodities())
}

func TestResolveAllIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	r.Workers = 2

	var got []Match
	milk := NewEngine("milk", DispatcherFunc(func(m Match) { got = append(got, m) }))
	ore := NewEngine("ore", nil)
	require.NoError(t, r.Register(milk))
	require.NoError(t, r.Register(ore))

	require.NoError(t, milk.Submit(NewOffer(testParty{id: 1}, qty(10))))
	require.NoError(t, milk.Submit(NewRequest(testParty{id: 2}, qty(4))))

	oreQty := resource.MustNew(decimal.NewFromInt(10), "ore", "t")
	require.NoError(t, ore.Submit(NewOffer(testParty{id: 3}, oreQty)))
	require.NoError(t, ore.Submit(NewRequest(testParty{id: 4}, resource.MustNew(decimal.NewFromInt(2), "ore", "t"))))
	_, _, err := oreQty.Split(decimal.NewFromInt(1))
	require.NoError(t, err)

	results, err := r.ResolveAll(context.Background())
	require.Error(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "milk", results[0].Commodity)
	assert.NoError(t, results[0].Err)
	assert.Len(t, results[0].Matches, 1)
	assert.Len(t, got, 1)

	assert.Equal(t, "ore", results[1].Commodity)
	assert.ErrorIs(t, results[1].Err, resource.ErrConsumed)
	assert.Len(t, ore.Offers(), 1)
}

func TestResolveAllCanceled(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewEngine("milk", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := r.ResolveAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}
