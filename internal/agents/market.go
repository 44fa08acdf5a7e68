package agents

import (
	"errors"

	"github.com/talgya/tradecycle/internal/market"
)

// Market is the agent that owns a commodity's matching engine. Deploying it
// registers the engine; resolution itself is driven by the scheduler, so the
// market does nothing on tick or tock.
type Market struct {
	Base

	Commod string
	engine *market.Engine
}

// NewMarket creates a market prototype for commodity.
func NewMarket(commodity string) *Market {
	return &Market{Commod: commodity}
}

func (m *Market) Role() Role { return RoleMarket }

// Commodity returns the commodity the market resolves.
func (m *Market) Commodity() string { return m.Commod }

// Engine returns the deployed engine, nil before deployment.
func (m *Market) Engine() *market.Engine { return m.engine }

func (m *Market) Clone() Participant {
	return &Market{Base: m.identity(), Commod: m.Commod}
}

func (m *Market) Deploy(ctx *Context, parent Participant) error {
	if m.Commod == "" {
		return errors.New("market has no commodity")
	}
	e := market.NewEngine(m.Commod, ctx.Dispatcher)
	if err := ctx.Markets.Register(e); err != nil {
		return err
	}
	m.engine = e
	return ctx.register(m, parent, false)
}

func (m *Market) HandleTick(step int) {}

func (m *Market) HandleTock(step int) {}
